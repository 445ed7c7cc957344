// Package outcome defines the presenter-facing event types the engine
// and group buffer emit, and the Bus that delivers them.
package outcome

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/attendo/kiosk-engine/internal/policy"
	"github.com/attendo/kiosk-engine/internal/store"
)

// Type classifies an outcome event.
type Type string

const (
	TypeAttendanceCommitted Type = "attendance.committed"
	TypeAttendanceRejected  Type = "attendance.rejected"
	TypeAttendanceAborted   Type = "attendance.aborted"
	TypeGroupAdmitted       Type = "group.admitted"
	TypeGroupRejected       Type = "group.rejected"
	TypeGroupCommitResult   Type = "group.commit_result"
	TypeRecognitionTrace    Type = "recognition.trace"
)

// GroupCommitOne is one subject's result within a GroupCommitResult outcome.
type GroupCommitOne struct {
	SubjectID string `json:"subject_id"`
	RecordID  int64  `json:"record_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Outcome is the single event shape every presenter consumes. Only the
// fields relevant to Type are populated; a single flat envelope rather
// than a Go sum type, since outcomes cross a network boundary
// (websocket, Redis) where one JSON shape per type
// would require client-side type switching anyway.
type Outcome struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SubjectID string          `json:"subject_id,omitempty"`

	Action        policy.ActionKind  `json:"action,omitempty"`
	Late          bool               `json:"late,omitempty"`
	OvertimeHours int                `json:"overtime_hours,omitempty"`
	ShiftLabel    string             `json:"shift_label,omitempty"`
	RecordID      int64              `json:"record_id,omitempty"`
	Location      *store.Location    `json:"location,omitempty"`
	Emergency     *store.Emergency   `json:"emergency,omitempty"`

	RejectReason      policy.RejectReason `json:"reject_reason,omitempty"`
	AbortReason       string              `json:"abort_reason,omitempty"`
	CooldownRemaining time.Duration       `json:"cooldown_remaining_ns,omitempty"`

	GroupResults []GroupCommitOne `json:"group_results,omitempty"`

	RecognitionOutcome string `json:"recognition_outcome,omitempty"`
}

// Handler processes one delivered outcome.
type Handler func(ctx context.Context, o *Outcome) error

// Bus fans outcomes out to subscribed presenters.
type Bus interface {
	Publish(ctx context.Context, o *Outcome) error
	Subscribe(handler Handler) (unsubscribe func())
	Close() error
}

// LocalBus delivers outcomes to in-process subscribers only; sufficient
// for a single kiosk process serving its own websocket hub.
type LocalBus struct {
	mu          sync.RWMutex
	subscribers map[int]Handler
	nextID      int
	closed      bool
}

// NewLocalBus constructs an empty LocalBus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subscribers: make(map[int]Handler)}
}

// Publish stamps o with an id/timestamp if absent and fans it out
// asynchronously to every subscriber.
func (b *LocalBus) Publish(ctx context.Context, o *Outcome) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	for _, h := range b.subscribers {
		handler := h
		go func() {
			if err := handler(ctx, o); err != nil {
				slog.Warn("outcome: handler failed", "type", o.Type, "error", err)
			}
		}()
	}
	return nil
}

// Subscribe registers handler for every outcome. The returned func
// unsubscribes it.
func (b *LocalBus) Subscribe(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers, id)
	}
}

// Close stops delivery; Publish after Close is a no-op.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscribers = nil
	return nil
}

// RedisChannelClient is a minimal interface over the Redis operations
// RedisBus needs, narrowed the same way internal/fabric/redis_event_bus.go
// narrows RedisPubSubClient.
type RedisChannelClient interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func([]byte)) (unsubscribe func(), err error)
}

// RedisBus distributes outcomes across kiosk processes sharing one Redis
// instance (e.g. a kiosk station plus a remote monitoring dashboard).
// In-process subscribers receive outcomes as they come back over the
// Redis subscription; an outcome whose Redis publish fails is delivered
// to them directly instead.
type RedisBus struct {
	mu      sync.RWMutex
	client  RedisChannelClient
	channel string
	local   *LocalBus
	unsubs  []func()
	closed  bool
}

// NewRedisBus wires client to channel (default "kiosk:outcomes").
func NewRedisBus(client RedisChannelClient, channel string) *RedisBus {
	if channel == "" {
		channel = "kiosk:outcomes"
	}
	b := &RedisBus{client: client, channel: channel, local: NewLocalBus()}
	unsub, err := client.Subscribe(context.Background(), channel, b.onMessage)
	if err != nil {
		slog.Warn("outcome: redis subscribe failed, local-only delivery", "error", err)
	} else {
		b.unsubs = append(b.unsubs, unsub)
	}
	return b
}

func (b *RedisBus) onMessage(data []byte) {
	var o Outcome
	if err := json.Unmarshal(data, &o); err != nil {
		slog.Warn("outcome: failed to decode redis message", "error", err)
		return
	}
	_ = b.local.Publish(context.Background(), &o)
}

// Publish marshals o to JSON and publishes to Redis; on a transport error
// it falls back to local-only delivery rather than dropping the outcome.
func (b *RedisBus) Publish(ctx context.Context, o *Outcome) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now()
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil
	}

	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data); err != nil {
		slog.Warn("outcome: redis publish failed, falling back to local", "error", err)
		return b.local.Publish(ctx, o)
	}
	return nil
}

// Subscribe registers a local handler; it receives outcomes from both
// Redis and same-process Publish calls.
func (b *RedisBus) Subscribe(handler Handler) func() {
	return b.local.Subscribe(handler)
}

// Close tears down the Redis subscription and all local subscribers.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, unsub := range b.unsubs {
		unsub()
	}
	b.unsubs = nil
	return b.local.Close()
}
