package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/bdougie/visionstream/internal/gradio"
	"github.com/bdougie/visionstream/internal/models"
)

var (
	// ErrNotConnected is returned when a job is submitted before Connect succeeded.
	ErrNotConnected = errors.New("gradio client is not connected")
	// ErrSessionClosed is returned by Connect after Close.
	ErrSessionClosed = errors.New("session is closed")
)

// Handle is an established connection to the inference service.
type Handle interface {
	Submit(ctx context.Context, endpoint string, params map[string]any) (gradio.Stream, error)
}

// Dialer establishes a Handle to the service at address.
type Dialer func(ctx context.Context, address string) (Handle, error)

// GradioDialer returns a Dialer backed by gradio.Connect.
func GradioDialer(opts ...gradio.Option) Dialer {
	return func(ctx context.Context, address string) (Handle, error) {
		c, err := gradio.Connect(ctx, address, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// LogSink receives the user-facing job log.
type LogSink interface {
	AddLog(message string, severity models.Severity)
}

type discardSink struct{}

func (discardSink) AddLog(string, models.Severity) {}

type sessionState int

const (
	stateCreated sessionState = iota
	stateConnected
	stateDisposed
)

// Session owns the connection to one inference service and the counters
// aggregated from the jobs run through it.
type Session struct {
	address string
	dial    Dialer
	sink    LogSink
	logger  *slog.Logger

	connect singleflight.Group

	mu       sync.Mutex
	state    sessionState
	handle   Handle
	counters models.Counters
}

// NewSession creates an unconnected session for address.
func NewSession(address string, dial Dialer, sink LogSink, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = discardSink{}
	}
	return &Session{
		address: address,
		dial:    dial,
		sink:    sink,
		logger:  logger,
	}
}

// Connect establishes the handle if the session has none. It is
// idempotent, and concurrent callers share a single dial.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	switch state {
	case stateConnected:
		return nil
	case stateDisposed:
		return ErrSessionClosed
	}

	_, err, shared := s.connect.Do("connect", func() (any, error) {
		s.mu.Lock()
		state := s.state
		s.mu.Unlock()
		switch state {
		case stateConnected:
			return nil, nil
		case stateDisposed:
			return nil, ErrSessionClosed
		}

		h, err := s.dial(ctx, s.address)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", s.address, err)
		}

		s.mu.Lock()
		if s.state == stateDisposed {
			s.mu.Unlock()
			closeHandle(h)
			return nil, ErrSessionClosed
		}
		s.handle = h
		s.state = stateConnected
		s.mu.Unlock()

		s.sink.AddLog("Connected to Gradio Space", models.SeverityInfo)
		return nil, nil
	})
	if shared {
		s.logger.Debug("joined in-flight connect", "address", s.address)
	}
	return err
}

// Ready reports whether the session holds a handle.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateConnected
}

// Counters returns a snapshot of the classification tallies.
func (s *Session) Counters() models.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// Close disposes the session and releases the handle. The counters stay
// readable.
func (s *Session) Close() error {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.state = stateDisposed
	s.mu.Unlock()

	return closeHandle(h)
}

func (s *Session) currentHandle() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

func (s *Session) record(label models.Label) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if label == models.Civilian {
		s.counters.Civilians++
	} else {
		s.counters.Soldiers++
	}
}

func closeHandle(h Handle) error {
	if c, ok := h.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
