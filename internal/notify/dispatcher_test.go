package notify

import (
	"context"
	"testing"
	"time"

	"github.com/solsticehq/centra/errs"
	"github.com/solsticehq/centra/internal/schema"
)

type recordingSender struct {
	sent chan schema.Notification
	err  error
}

func newRecordingSender(buffer int) *recordingSender {
	return &recordingSender{sent: make(chan schema.Notification, buffer)}
}

func (s *recordingSender) Name() string                      { return "recording" }
func (s *recordingSender) Configured() bool                  { return true }
func (s *recordingSender) HealthCheck(context.Context) error { return nil }

func (s *recordingSender) Send(_ context.Context, note schema.Notification) error {
	if s.err != nil {
		return s.err
	}
	s.sent <- note
	return nil
}

func validNote(id string) schema.Notification {
	return schema.Notification{
		CustomerID: id,
		Channel:    schema.ChannelPush,
		Subject:    "reminder",
		Body:       "your session starts soon",
	}
}

func awaitNote(t *testing.T, sender *recordingSender) schema.Notification {
	t.Helper()
	select {
	case note := <-sender.sent:
		return note
	case <-time.After(2 * time.Second):
		t.Fatal("notification never delivered")
		return schema.Notification{}
	}
}

func TestDispatchDelivers(t *testing.T) {
	sender := newRecordingSender(8)
	d, err := NewDispatcher(sender, Config{RatePerSecond: 1000, Burst: 100}, nil)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	defer d.Shutdown(context.Background())

	if err := d.Dispatch(validNote("cust-1")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	note := awaitNote(t, sender)
	if note.CustomerID != "cust-1" {
		t.Fatalf("unexpected delivery %+v", note)
	}
}

func TestDispatchRejectsInvalidNotification(t *testing.T) {
	sender := newRecordingSender(1)
	d, err := NewDispatcher(sender, Config{}, nil)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	defer d.Shutdown(context.Background())

	err = d.Dispatch(schema.Notification{CustomerID: "cust-2"})
	if errs.CodeOf(err) != errs.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	select {
	case note := <-sender.sent:
		t.Fatalf("invalid notification must not be delivered: %+v", note)
	default:
	}
}

func TestDispatchSwallowsDeliveryFailures(t *testing.T) {
	sender := newRecordingSender(1)
	sender.err = errs.New("messaging", errs.CodeUnavailable, errs.WithMessage("stream down"))
	d, err := NewDispatcher(sender, Config{RatePerSecond: 1000, Burst: 100}, nil)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	if err := d.Dispatch(validNote("cust-3")); err != nil {
		t.Fatalf("delivery failures must not surface at enqueue: %v", err)
	}
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	letters := d.DeadLetters().Drain()
	if len(letters) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(letters))
	}
	if letters[0].Note.CustomerID != "cust-3" || letters[0].Reason == "" {
		t.Fatalf("unexpected dead letter %+v", letters[0])
	}
	if d.DeadLetters().Len() != 0 {
		t.Fatal("drain must clear the queue")
	}
}

func TestDeadLetterQueueDropsOldestAtCapacity(t *testing.T) {
	q := NewDeadLetterQueue(2)
	for i, id := range []string{"cust-a", "cust-b", "cust-c"} {
		q.Offer(DeadLetter{Note: validNote(id), Reason: "stream down", FailedAt: time.Unix(int64(i), 0)})
	}
	letters := q.Drain()
	if len(letters) != 2 {
		t.Fatalf("expected 2 letters, got %d", len(letters))
	}
	if letters[0].Note.CustomerID != "cust-b" || letters[1].Note.CustomerID != "cust-c" {
		t.Fatalf("expected oldest letter dropped, got %+v", letters)
	}
}

func TestDispatchAfterShutdownFails(t *testing.T) {
	sender := newRecordingSender(1)
	d, err := NewDispatcher(sender, Config{}, nil)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := d.Dispatch(validNote("cust-4")); err == nil {
		t.Fatal("dispatch after shutdown must fail")
	}
}

func TestDispatchOrderedDeliveriesDrain(t *testing.T) {
	sender := newRecordingSender(16)
	d, err := NewDispatcher(sender, Config{Workers: 1, Queue: 16, RatePerSecond: 1000, Burst: 100}, nil)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := d.Dispatch(validNote("cust-5")); err != nil {
			t.Fatalf("Dispatch %d: %v", i, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := len(sender.sent); got != 5 {
		t.Fatalf("expected 5 deliveries after drain, got %d", got)
	}
}
