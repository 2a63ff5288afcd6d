package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/bdougie/visionstream/internal/gradio"
	"github.com/bdougie/visionstream/internal/models"
)

// ErrJobInProgress is returned when a second job is submitted while one is
// still streaming.
var ErrJobInProgress = errors.New("a job is already in progress")

const (
	DefaultEndpoint  = "/predict"
	DefaultParameter = "input_video_path"
)

// JobConfig names the remote endpoint and its video parameter.
type JobConfig struct {
	Endpoint  string
	Parameter string
}

// Processor submits videos through a Session and consumes their job
// streams. It runs one job at a time.
type Processor struct {
	session *Session
	sink    LogSink
	logger  *slog.Logger
	cfg     JobConfig

	busy atomic.Bool
}

func NewProcessor(session *Session, cfg JobConfig) *Processor {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Parameter == "" {
		cfg.Parameter = DefaultParameter
	}
	return &Processor{
		session: session,
		sink:    session.sink,
		logger:  session.logger,
		cfg:     cfg,
	}
}

// Busy reports whether a job is streaming.
func (p *Processor) Busy() bool {
	return p.busy.Load()
}

// ProcessVideo submits file as a job and consumes its stream until the
// processed video URL arrives. It returns "" with a nil error when the
// stream ends without one.
func (p *Processor) ProcessVideo(ctx context.Context, file gradio.Uploadable) (string, error) {
	handle := p.session.currentHandle()
	if handle == nil {
		p.sink.AddLog("Gradio client is not connected. Call Connect first.", models.SeverityWarning)
		return "", ErrNotConnected
	}

	if !p.busy.CompareAndSwap(false, true) {
		return "", ErrJobInProgress
	}
	defer p.busy.Store(false)

	p.sink.AddLog("Video submitted for processing.", models.SeverityInfo)

	stream, err := handle.Submit(ctx, p.cfg.Endpoint, map[string]any{
		p.cfg.Parameter: map[string]any{"video": file},
	})
	if err != nil {
		return "", fmt.Errorf("failed to submit job: %w", err)
	}
	defer stream.Close()

	for {
		msg, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			p.logger.Debug("job stream ended without a result")
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("job stream failed: %w", err)
		}

		if msg.Type != gradio.TypeData {
			p.logger.Debug("skipping message", "type", msg.Type, "stage", msg.Stage, "text", msg.Text)
			continue
		}

		if url, done := p.apply(decodeEvent(msg.Data)); done {
			// Nothing after the artifact is read.
			if err := stream.Close(); err != nil {
				p.logger.Debug("failed to close job stream", "error", err)
			}
			return url, nil
		}
	}
}

// apply records one event and reports whether it carried the final
// artifact.
func (p *Processor) apply(ev models.JobEvent) (string, bool) {
	if ev.Status != nil {
		p.sink.AddLog(*ev.Status, models.SeverityInfo)
	}
	if ev.Label != nil {
		p.session.record(*ev.Label)
	}
	if ev.Artifact != nil {
		p.sink.AddLog("Processing complete.", models.SeveritySuccess)
		return ev.Artifact.URL, true
	}
	return "", false
}
