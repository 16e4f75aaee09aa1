package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/solsticehq/centra/errs"
	"github.com/solsticehq/centra/internal/schema"
	"github.com/solsticehq/centra/internal/sources"
)

const (
	streamDialTimeout = 10 * time.Second
	streamSendRate    = rate.Limit(20)
	streamSendBurst   = 5
)

// frame is the wire envelope pushed to the notification gateway.
type frame struct {
	Type       string                     `json:"type"`
	ID         string                     `json:"id"`
	CustomerID string                     `json:"customerId"`
	Channel    schema.NotificationChannel `json:"channel"`
	Subject    string                     `json:"subject,omitempty"`
	Body       string                     `json:"body"`
	SentAt     time.Time                  `json:"sentAt"`
}

// Stream pushes notifications as JSON frames over a websocket to a downstream
// delivery gateway. The connection is dialled lazily and re-dialled with
// exponential backoff after failures; sends are throttled so a burst of
// notifications cannot flood the gateway connection.
type Stream struct {
	url     string
	limiter *rate.Limiter
	clock   func() time.Time

	connMu  sync.Mutex
	conn    *websocket.Conn
	backoff *backoff.ExponentialBackOff
}

// NewStream constructs the websocket provider. A missing stream URL is a
// configuration error surfaced at startup.
func NewStream(opts sources.Options) (*Stream, error) {
	url := strings.TrimSpace(opts.StreamURL)
	if url == "" {
		return nil, errs.New("messaging", errs.CodeConfig,
			errs.WithMessage("stream provider requires a stream URL"))
	}
	return &Stream{
		url:     url,
		limiter: rate.NewLimiter(streamSendRate, streamSendBurst),
		clock:   opts.Clock,
		backoff: backoff.NewExponentialBackOff(),
	}, nil
}

func (s *Stream) Name() string { return "stream" }

// Configured reports whether a gateway URL is present.
func (s *Stream) Configured() bool { return s.url != "" }

// HealthCheck verifies the gateway connection, dialling if necessary.
func (s *Stream) HealthCheck(ctx context.Context) error {
	_, err := s.connection(ctx)
	return err
}

// Send pushes one notification frame, reconnecting once on a stale
// connection.
func (s *Stream) Send(ctx context.Context, note schema.Notification) error {
	if err := note.Validate(); err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send throttle: %w", err)
	}

	payload, err := json.Marshal(frame{
		Type:       "notification",
		ID:         note.ID,
		CustomerID: note.CustomerID,
		Channel:    note.Channel,
		Subject:    note.Subject,
		Body:       note.Body,
		SentAt:     s.now(),
	})
	if err != nil {
		return fmt.Errorf("encode notification frame: %w", err)
	}

	if err := s.write(ctx, payload); err != nil {
		// One reconnect attempt; a second failure is the caller's problem.
		s.drop()
		if err := s.write(ctx, payload); err != nil {
			return errs.New("messaging", errs.CodeUnavailable,
				errs.WithMessage("notification gateway unreachable"), errs.WithCause(err))
		}
	}
	return nil
}

// Close shuts the gateway connection down cleanly.
func (s *Stream) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close(websocket.StatusNormalClosure, "shutdown")
	s.conn = nil
	return err
}

func (s *Stream) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now()
}

func (s *Stream) write(ctx context.Context, payload []byte) error {
	conn, err := s.connection(ctx)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

// connection returns the live connection, dialling with backoff-spaced
// attempts while the context allows.
func (s *Stream) connection(ctx context.Context) (*websocket.Conn, error) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}

	for {
		dialCtx, cancel := context.WithTimeout(ctx, streamDialTimeout)
		conn, _, err := websocket.Dial(dialCtx, s.url, nil)
		cancel()
		if err == nil {
			s.backoff.Reset()
			s.conn = conn
			return conn, nil
		}

		sleep := s.backoff.NextBackOff()
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errs.New("messaging", errs.CodeUnavailable,
				errs.WithMessage("dial notification gateway"), errs.WithCause(err))
		case <-timer.C:
		}
	}
}

// drop discards the connection so the next write re-dials.
func (s *Stream) drop() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusInternalError, "send failed")
		s.conn = nil
	}
}
