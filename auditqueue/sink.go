// Package auditqueue ships audit events through an asynq queue so a separate
// worker can persist or forward them.
package auditqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MrEthical07/authbridge"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TypeAuditEvent is the asynq task type carrying one JSON-encoded event.
const TypeAuditEvent = "audit:event"

const (
	defaultQueue          = "audit"
	defaultEnqueueTimeout = 2 * time.Second
	defaultMaxRetry       = 3
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Config tunes [Sink]. Zero values take the package defaults.
type Config struct {
	Queue          string
	MaxRetry       int
	EnqueueTimeout time.Duration
}

var _ authbridge.AuditSink = (*Sink)(nil)

// Sink is an [authbridge.AuditSink] that enqueues every event as an asynq
// task. Enqueue failures are logged and the event is dropped.
type Sink struct {
	client enqueuer
	log    zerolog.Logger
	cfg    Config
}

// NewSink returns a sink over client. The caller owns client and closes it.
func NewSink(client *asynq.Client, cfg Config, log zerolog.Logger) *Sink {
	return newSink(client, cfg, log)
}

func newSink(client enqueuer, cfg Config, log zerolog.Logger) *Sink {
	if cfg.Queue == "" {
		cfg.Queue = defaultQueue
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = defaultMaxRetry
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaultEnqueueTimeout
	}
	return &Sink{client: client, log: log, cfg: cfg}
}

// NewTask encodes event as an audit task.
func NewTask(event authbridge.AuditEvent) (*asynq.Task, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode audit event: %w", err)
	}
	return asynq.NewTask(TypeAuditEvent, payload), nil
}

func (s *Sink) Emit(ctx context.Context, event authbridge.AuditEvent) {
	if s == nil || s.client == nil {
		return
	}
	task, err := NewTask(event)
	if err != nil {
		s.log.Warn().Err(err).Str("event_type", event.EventType).Msg("audit event encode failed")
		return
	}

	// The request that produced the event may already be finished.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.EnqueueTimeout)
	defer cancel()

	if _, err := s.client.EnqueueContext(ctx, task, asynq.Queue(s.cfg.Queue), asynq.MaxRetry(s.cfg.MaxRetry)); err != nil {
		s.log.Warn().Err(err).Str("event_type", event.EventType).Msg("enqueue audit event failed")
	}
}

// Handler decodes audit tasks on the worker side and hands them to next.
func Handler(next authbridge.AuditSink, log zerolog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var event authbridge.AuditEvent
		if err := json.Unmarshal(t.Payload(), &event); err != nil {
			log.Error().Err(err).Msg("audit task payload invalid")
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		next.Emit(ctx, event)
		return nil
	}
}

// NewServeMux registers [Handler] for [TypeAuditEvent].
func NewServeMux(next authbridge.AuditSink, log zerolog.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeAuditEvent, Handler(next, log))
	return mux
}
