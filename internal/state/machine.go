package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// 行程状态常量
const (
	StateIdle      = "idle"
	StateActive    = "active"
	StateStopped   = "stopped"
	StateCompleted = "completed"
)

// 事件常量
const (
	EventStart    = "start"
	EventStop     = "stop"
	EventComplete = "complete"
	EventReset    = "reset"
)

// Machine 行程生命周期状态机
// idle → active → {stopped, completed}；stopped/completed 只能通过 reset 回到 idle
type Machine struct {
	mu           sync.RWMutex
	fsm          *fsm.FSM
	since        time.Time
	onTransition func(from, to string)
}

// NewMachine 创建状态机
func NewMachine(onTransition func(from, to string)) *Machine {
	m := &Machine{
		since:        time.Now(),
		onTransition: onTransition,
	}

	m.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventStart, Src: []string{StateIdle}, Dst: StateActive},
			{Name: EventStop, Src: []string{StateActive}, Dst: StateStopped},
			{Name: EventComplete, Src: []string{StateActive}, Dst: StateCompleted},
			{Name: EventReset, Src: []string{StateStopped, StateCompleted, StateActive}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onTransition != nil && e.Src != e.Dst {
					m.onTransition(e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// Current 获取当前状态
func (m *Machine) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// Since 当前状态的起始时间
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Trigger 触发事件
func (m *Machine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}

	m.since = time.Now()
	return nil
}

// CanTransition 检查是否可以转换
func (m *Machine) CanTransition(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}

// IsActive 当前是否处于行程中
func (m *Machine) IsActive() bool {
	return m.Current() == StateActive
}
