package auditqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authbridge"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
	ctxOK bool
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.ctxOK = ctx.Err() == nil
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func TestSinkRoundTripsThroughHandler(t *testing.T) {
	q := &fakeEnqueuer{}
	sink := newSink(q, Config{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	event := authbridge.AuditEvent{
		Timestamp: time.Unix(1_700_000_000, 0).UTC(),
		EventType: "login_failure",
		Outcome:   authbridge.AuditFailure,
		Identity:  "jane@example.com",
		IP:        "10.0.0.1",
		Reason:    "password_mismatch",
	}
	sink.Emit(ctx, event)

	if len(q.tasks) != 1 || q.tasks[0].Type() != TypeAuditEvent {
		t.Fatalf("expected one audit task, got %d", len(q.tasks))
	}
	if !q.ctxOK {
		t.Fatalf("enqueue must not inherit request cancellation")
	}

	got := authbridge.NewChannelSink(1)
	if err := Handler(got, zerolog.Nop())(context.Background(), q.tasks[0]); err != nil {
		t.Fatalf("handler: %v", err)
	}
	decoded := <-got.Events()
	if decoded.EventType != event.EventType || decoded.Reason != event.Reason || !decoded.Timestamp.Equal(event.Timestamp) {
		t.Fatalf("decoded %+v, want %+v", decoded, event)
	}
}

func TestSinkSwallowsEnqueueErrors(t *testing.T) {
	q := &fakeEnqueuer{err: errors.New("redis down")}
	sink := newSink(q, Config{}, zerolog.Nop())
	sink.Emit(context.Background(), authbridge.AuditEvent{EventType: "logout"})
	if len(q.tasks) != 0 {
		t.Fatalf("expected nothing recorded")
	}
}

func TestHandlerSkipsRetryOnGarbage(t *testing.T) {
	err := Handler(authbridge.NoOpSink{}, zerolog.Nop())(context.Background(), asynq.NewTask(TypeAuditEvent, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}
