package events

import (
	"log/slog"
	"sync"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit       EventType = "block_commit"
	EventTxExecuted        EventType = "tx_executed"
	EventTxFailed          EventType = "tx_failed"
	EventTokenTransfer     EventType = "token_transfer"
	EventTrustedServerSet  EventType = "trusted_server_set"
	EventGameModuleSet     EventType = "game_module_set"
	EventRelaySet          EventType = "relay_set"
	EventMaintenanceSet    EventType = "maintenance_set"
	EventSessionStarted    EventType = "session_started"
	EventSessionFinalized  EventType = "session_finalized"
	EventRewardSetup       EventType = "reward_setup"
	EventRewardClaimed     EventType = "reward_claimed"
	EventRewardVoided      EventType = "reward_voided"
	EventDisputeOpened     EventType = "dispute_opened"
	EventDisputeResolved   EventType = "dispute_resolved"
	EventProgressionUpdate EventType = "progression_update"
)

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	log      *slog.Logger
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{
		handlers: make(map[EventType][]Handler),
		log:      slog.Default().With("component", "events"),
	}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot halt block production.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("handler panicked", "event", ev.Type, "panic", r)
				}
			}()
			h(ev)
		}()
	}
}

// EmitAll delivers evs in order.
func (e *Emitter) EmitAll(evs []Event) {
	for _, ev := range evs {
		e.Emit(ev)
	}
}
