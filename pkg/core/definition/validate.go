package definition

import (
	"fmt"
	"sort"

	"github.com/stevelan1995/hrflow/pkg/core/dag"
	"github.com/stevelan1995/hrflow/pkg/core/workflow"
)

// ValidateVersion 校验版本的图结构（对外导出）
// 返回枚举到的全部缺陷，为空表示版本可以发布：
//   - 至少一个触发节点，触发节点没有入边
//   - 每条边的两端节点都存在
//   - 每个节点的配置与类型匹配
//   - 逻辑节点的出边覆盖true/false两个出口，非逻辑节点的出边不带条件
//   - 整图无环，且所有非触发节点都从触发节点可达
func ValidateVersion(v *workflow.Version) []string {
	var defects []string

	if len(v.Nodes) == 0 {
		return []string{"版本不包含任何节点"}
	}

	nodes := make(map[string]*workflow.Node, len(v.Nodes))
	triggerCount := 0
	for _, n := range v.Nodes {
		if _, exists := nodes[n.ID]; exists {
			defects = append(defects, fmt.Sprintf("节点ID重复: %s", n.ID))
			continue
		}
		nodes[n.ID] = n
		if n.Type == workflow.NodeTypeTrigger {
			triggerCount++
		}
		defects = append(defects, n.ValidateConfig()...)
	}
	if triggerCount == 0 {
		defects = append(defects, "版本没有触发节点")
	}

	// 边的端点检查；端点缺失的边不参与后续图检查
	structureOK := true
	for _, e := range v.Edges {
		src, srcOK := nodes[e.SourceNodeID]
		dst, dstOK := nodes[e.TargetNodeID]
		if !srcOK {
			defects = append(defects, fmt.Sprintf("边 %s 的源节点 %s 不存在", e.ID, e.SourceNodeID))
			structureOK = false
		}
		if !dstOK {
			defects = append(defects, fmt.Sprintf("边 %s 的目标节点 %s 不存在", e.ID, e.TargetNodeID))
			structureOK = false
		}
		if dstOK && dst.Type == workflow.NodeTypeTrigger {
			defects = append(defects, fmt.Sprintf("触发节点 %s 不允许有入边", dst.Key))
		}
		if srcOK {
			switch src.Type {
			case workflow.NodeTypeLogic:
				if e.Condition != workflow.ConditionTrue && e.Condition != workflow.ConditionFalse {
					defects = append(defects, fmt.Sprintf("逻辑节点 %s 的出边条件 %q 不合法", src.Key, e.Condition))
				}
			default:
				if e.Condition != "" {
					defects = append(defects, fmt.Sprintf("节点 %s 不是逻辑节点，出边不允许带条件", src.Key))
				}
			}
		}
	}

	// 逻辑节点必须覆盖声明的两个出口，否则某个求值结果没有去处
	branches := make(map[string]map[string]bool)
	for _, e := range v.Edges {
		src, ok := nodes[e.SourceNodeID]
		if !ok || src.Type != workflow.NodeTypeLogic {
			continue
		}
		if branches[src.ID] == nil {
			branches[src.ID] = make(map[string]bool)
		}
		branches[src.ID][e.Condition] = true
	}
	for _, n := range v.Nodes {
		if n.Type != workflow.NodeTypeLogic {
			continue
		}
		for _, cond := range []string{workflow.ConditionTrue, workflow.ConditionFalse} {
			if !branches[n.ID][cond] {
				defects = append(defects, fmt.Sprintf("逻辑节点 %s 缺少 %s 分支", n.Key, cond))
			}
		}
	}

	// 结构完整时才做环检测和可达性检查
	if structureOK && triggerCount > 0 {
		g, err := dag.Compile(v)
		if err != nil {
			defects = append(defects, err.Error())
		} else {
			reachable := g.ReachableFromTriggers()
			var orphans []string
			for _, n := range v.Nodes {
				if n.Type != workflow.NodeTypeTrigger && !reachable[n.ID] {
					orphans = append(orphans, n.Key)
				}
			}
			sort.Strings(orphans)
			for _, key := range orphans {
				defects = append(defects, fmt.Sprintf("节点 %s 从任何触发节点都不可达", key))
			}
		}
	}

	return defects
}
