// Package dispatch 实现触发分发器：
// 订阅领域事件总线，把事件匹配到已发布工作流的触发节点并创建Run，
// 至少一次投递下每个事件对每个工作流恰好创建一个Run。
package dispatch

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/stevelan1995/hrflow/pkg/core/definition"
	"github.com/stevelan1995/hrflow/pkg/core/engine"
	"github.com/stevelan1995/hrflow/pkg/core/run"
	"github.com/stevelan1995/hrflow/pkg/core/workflow"
	"github.com/stevelan1995/hrflow/pkg/storage"
)

// TopicDomainEvents 领域事件总线主题（对外导出）
const TopicDomainEvents = "hr_domain_events"

// DomainEvent 领域事件（对外导出）
// 由HR平台的其他子系统发布（employee_hired / termination_scheduled 等）
type DomainEvent struct {
	// ID 事件唯一标识，作为Run幂等键的一部分
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	TenantID   string         `json:"tenant_id"`
	EmployeeID string         `json:"employee_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Dispatcher 触发分发器（对外导出）
type Dispatcher struct {
	defs   *definition.Store
	wfRepo storage.WorkflowRepository
	engine *engine.Engine
	pub    message.Publisher
	sub    message.Subscriber
}

// NewDispatcher 创建触发分发器
func NewDispatcher(defs *definition.Store, wfRepo storage.WorkflowRepository,
	eng *engine.Engine, pub message.Publisher, sub message.Subscriber) *Dispatcher {
	return &Dispatcher{
		defs:   defs,
		wfRepo: wfRepo,
		engine: eng,
		pub:    pub,
		sub:    sub,
	}
}

// Publish 把领域事件发布到事件总线（对外导出）
func (d *Dispatcher) Publish(ctx context.Context, ev *DomainEvent) error {
	if ev.ID == "" {
		ev.ID = watermill.NewUUID()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set("event_type", ev.Type)
	return d.pub.Publish(TopicDomainEvents, msg)
}

// Start 启动事件订阅循环（对外导出）
// 消息处理完成后才Ack；Dispatch本身幂等，重复投递不会产生重复Run
func (d *Dispatcher) Start(ctx context.Context) error {
	messages, err := d.sub.Subscribe(ctx, TopicDomainEvents)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			var ev DomainEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				log.Printf("❌ 领域事件解析失败: %v", err)
				msg.Ack()
				continue
			}
			if _, err := d.Dispatch(ctx, &ev); err != nil {
				log.Printf("❌ 领域事件分发失败: Type=%s, ID=%s, Error=%v", ev.Type, ev.ID, err)
				// Nack让总线重新投递，幂等键保证不会重复创建
				msg.Nack()
				continue
			}
			msg.Ack()
		}
	}()

	log.Printf("🚀 触发分发器已启动: Topic=%s", TopicDomainEvents)
	return nil
}

// Dispatch 把一个领域事件匹配到所有已发布工作流（对外导出）
// 对每个触发节点事件类型和谓词都命中的工作流创建一个Run并立即推进；
// 返回本次调用实际新建的Run
func (d *Dispatcher) Dispatch(ctx context.Context, ev *DomainEvent) ([]*run.Run, error) {
	workflows, err := d.wfRepo.ListPublishedWorkflows(ctx, ev.TenantID)
	if err != nil {
		return nil, err
	}

	var created []*run.Run
	for _, wf := range workflows {
		g, err := d.defs.GetActiveDefinition(ctx, wf.ID)
		if err != nil {
			log.Printf("⚠️ 获取激活版本失败，跳过工作流: Workflow=%s, Error=%v", wf.ID, err)
			continue
		}

		trigger := g.TriggerByEventType(ev.Type)
		if trigger == nil {
			continue
		}
		if !predicateMatches(trigger.Config.Trigger.Predicate, ev.Payload) {
			continue
		}

		r, isNew, err := d.engine.CreateRun(ctx, wf, g, ev.EmployeeID, ev.ID, trigger, ev.Payload)
		if err != nil {
			return created, err
		}
		if !isNew {
			// 重复投递命中去重键：首次投递可能在首轮推进前崩溃，
			// 未终结的Run借这次重投继续推进，不能直接跳过
			if !r.Status.Terminal() {
				if err := d.engine.AdvanceRun(ctx, r.ID); err != nil {
					return created, err
				}
			}
			continue
		}
		created = append(created, r)

		// 创建后立即处理触发节点的直接后继
		if err := d.engine.AdvanceRun(ctx, r.ID); err != nil {
			return created, err
		}
	}
	return created, nil
}

// predicateMatches 触发谓词全部满足才命中
func predicateMatches(predicate []workflow.Comparison, payload map[string]any) bool {
	for _, c := range predicate {
		if !c.Evaluate(payload) {
			return false
		}
	}
	return true
}
