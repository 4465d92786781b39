// Package dag 将工作流版本的节点和边编译为可供执行器遍历的有向无环图。
package dag

import (
	"crypto/sha256"
	"fmt"
	"sort"

	godag "github.com/begmaroman/go-dag"

	"github.com/stevelan1995/hrflow/pkg/core/workflow"
)

// vertex go-dag顶点包装（内部结构）
// workflow.Node的ID是字段，这里包一层以实现go-dag的Identifiable接口
type vertex struct {
	node *workflow.Node
}

// ID 实现Identifiable接口
func (v *vertex) ID() string {
	return v.node.ID
}

// Hash 实现Hashable接口，按节点ID散列
// 不实现时go-dag回退到json.Marshal，vertex没有导出字段，
// 所有顶点都序列化为{}并散列相同，第二次AddVertex即报重复
func (v *vertex) Hash() (godag.VHash, error) {
	return sha256.Sum256([]byte(v.node.ID)), nil
}

// CompiledGraph 编译后的工作流图（对外导出）
// 对应一个不可变版本：版本发布后图结构不再变化，可按VersionID无限期缓存
type CompiledGraph struct {
	VersionID     string
	VersionNumber int

	d        *godag.DAG[*vertex]
	nodes    map[string]*workflow.Node
	out      map[string][]*workflow.Edge // 出边，按Position稳定排序
	in       map[string][]*workflow.Edge // 入边
	triggers []*workflow.Node
}

// Compile 将版本编译为CompiledGraph（对外导出）
// 先在邻接表上做一次DFS循环检测，再一次性写入go-dag实例，
// 避免每次AddEdge时的递归检查（与发布校验共用同一套检测逻辑）
func Compile(v *workflow.Version) (*CompiledGraph, error) {
	nodes := make(map[string]*workflow.Node, len(v.Nodes))
	for _, n := range v.Nodes {
		if _, exists := nodes[n.ID]; exists {
			return nil, fmt.Errorf("节点ID重复: %s", n.ID)
		}
		nodes[n.ID] = n
	}

	// 1. 构建临时邻接表
	graph := make(map[string][]string, len(nodes))
	for id := range nodes {
		graph[id] = make([]string, 0)
	}
	for _, e := range v.Edges {
		if _, ok := nodes[e.SourceNodeID]; !ok {
			return nil, fmt.Errorf("边 %s 的源节点 %s 不存在", e.ID, e.SourceNodeID)
		}
		if _, ok := nodes[e.TargetNodeID]; !ok {
			return nil, fmt.Errorf("边 %s 的目标节点 %s 不存在", e.ID, e.TargetNodeID)
		}
		graph[e.SourceNodeID] = append(graph[e.SourceNodeID], e.TargetNodeID)
	}

	// 2. 一次性检测循环
	if hasCycle, cyclePath := detectCycleDFS(graph); hasCycle {
		return nil, fmt.Errorf("检测到循环依赖: %v", cycleKeys(nodes, cyclePath))
	}

	// 3. 写入go-dag实例（已确认无环，AddEdge不会失败）
	d := godag.NewDAG[*vertex]()
	for _, n := range nodes {
		if _, err := d.AddVertex(&vertex{node: n}); err != nil {
			return nil, fmt.Errorf("添加节点失败: %s, Error=%w", n.Key, err)
		}
	}
	for _, e := range v.Edges {
		if err := d.AddEdge(e.SourceNodeID, e.TargetNodeID); err != nil {
			return nil, fmt.Errorf("添加边失败: %s -> %s, Error=%w", e.SourceNodeID, e.TargetNodeID, err)
		}
	}

	// 4. 建立出边/入边索引，兄弟边按Position排序保证确定性
	out := make(map[string][]*workflow.Edge)
	in := make(map[string][]*workflow.Edge)
	for _, e := range v.Edges {
		out[e.SourceNodeID] = append(out[e.SourceNodeID], e)
		in[e.TargetNodeID] = append(in[e.TargetNodeID], e)
	}
	for id := range out {
		sortEdges(out[id])
	}
	for id := range in {
		sortEdges(in[id])
	}

	triggers := make([]*workflow.Node, 0, 1)
	for _, n := range v.Nodes {
		if n.Type == workflow.NodeTypeTrigger {
			triggers = append(triggers, n)
		}
	}

	return &CompiledGraph{
		VersionID:     v.ID,
		VersionNumber: v.VersionNumber,
		d:             d,
		nodes:         nodes,
		out:           out,
		in:            in,
		triggers:      triggers,
	}, nil
}

// sortEdges 按Position排序，Position相同时按目标节点ID排序
func sortEdges(edges []*workflow.Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].Position != edges[j].Position {
			return edges[i].Position < edges[j].Position
		}
		return edges[i].TargetNodeID < edges[j].TargetNodeID
	})
}

// cycleKeys 将循环路径上的节点ID转换为节点Key，便于报错定位
func cycleKeys(nodes map[string]*workflow.Node, path []string) []string {
	keys := make([]string, 0, len(path))
	for _, id := range path {
		if n, ok := nodes[id]; ok {
			keys = append(keys, n.Key)
		} else {
			keys = append(keys, id)
		}
	}
	return keys
}

// detectCycleDFS 使用DFS检测图中是否存在循环
// 三色标记法：0=白色（未访问），1=灰色（正在访问），2=黑色（已访问）
func detectCycleDFS(graph map[string][]string) (bool, []string) {
	color := make(map[string]int)
	parent := make(map[string]string)
	cyclePath := make([]string, 0)

	for nodeID := range graph {
		color[nodeID] = 0
	}

	var dfs func(nodeID string) bool
	dfs = func(nodeID string) bool {
		color[nodeID] = 1

		for _, childID := range graph[nodeID] {
			if color[childID] == 0 {
				parent[childID] = nodeID
				if dfs(childID) {
					return true
				}
			} else if color[childID] == 1 {
				// 灰色节点，存在后向边，构建循环路径
				cyclePath = append(cyclePath, childID)
				cur := nodeID
				for cur != childID && cur != "" {
					cyclePath = append(cyclePath, cur)
					cur = parent[cur]
				}
				cyclePath = append(cyclePath, childID)
				return true
			}
		}

		color[nodeID] = 2
		return false
	}

	for nodeID := range graph {
		if color[nodeID] == 0 {
			if dfs(nodeID) {
				return true, cyclePath
			}
		}
	}

	return false, nil
}

// Node 获取指定节点
// 如果不存在返回 nil
func (g *CompiledGraph) Node(id string) *workflow.Node {
	return g.nodes[id]
}

// Nodes 获取所有节点
func (g *CompiledGraph) Nodes() map[string]*workflow.Node {
	return g.nodes
}

// Triggers 获取所有触发节点
func (g *CompiledGraph) Triggers() []*workflow.Node {
	return g.triggers
}

// TriggerByEventType 根据事件类型查找触发节点
// 如果不存在返回 nil
func (g *CompiledGraph) TriggerByEventType(eventType string) *workflow.Node {
	for _, t := range g.triggers {
		if t.Config.Trigger != nil && t.Config.Trigger.EventType == eventType {
			return t
		}
	}
	return nil
}

// OutEdges 获取节点的出边（按Position稳定排序）
func (g *CompiledGraph) OutEdges(nodeID string) []*workflow.Edge {
	return g.out[nodeID]
}

// InEdges 获取节点的入边
func (g *CompiledGraph) InEdges(nodeID string) []*workflow.Edge {
	return g.in[nodeID]
}

// ReachableFromTriggers 计算从触发节点可达的节点ID集合
// 发布校验用它找出孤立节点
func (g *CompiledGraph) ReachableFromTriggers() map[string]bool {
	reachable := make(map[string]bool)
	queue := make([]string, 0, len(g.triggers))
	for _, t := range g.triggers {
		reachable[t.ID] = true
		queue = append(queue, t.ID)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.out[cur] {
			if !reachable[e.TargetNodeID] {
				reachable[e.TargetNodeID] = true
				queue = append(queue, e.TargetNodeID)
			}
		}
	}
	return reachable
}

// TopologicalOrder 拓扑排序结果（对外导出）
type TopologicalOrder struct {
	Levels [][]string // 每一层的节点ID列表，层内可并行
}

// TopologicalSort 执行Kahn算法拓扑排序（对外导出）
func (g *CompiledGraph) TopologicalSort() *TopologicalOrder {
	inDegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = len(g.in[id])
	}

	queue := make([]string, 0)
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	result := &TopologicalOrder{Levels: make([][]string, 0)}
	for len(queue) > 0 {
		currentLevel := make([]string, 0, len(queue))
		nextQueue := make([]string, 0)
		for _, nodeID := range queue {
			currentLevel = append(currentLevel, nodeID)
			for _, e := range g.out[nodeID] {
				inDegree[e.TargetNodeID]--
				if inDegree[e.TargetNodeID] == 0 {
					nextQueue = append(nextQueue, e.TargetNodeID)
				}
			}
		}
		sort.Strings(nextQueue)
		result.Levels = append(result.Levels, currentLevel)
		queue = nextQueue
	}

	return result
}
