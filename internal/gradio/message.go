package gradio

import (
	"context"
	"encoding/json"
	"fmt"
)

// Message types delivered by a Stream.
const (
	TypeData   = "data"
	TypeStatus = "status"
	TypeLog    = "log"
)

// Message is one normalized event of a job stream. Data carries the
// endpoint outputs, in order, for TypeData messages.
type Message struct {
	Type  string
	Data  []json.RawMessage
	Stage string
	Text  string
}

// Stream is a single-pass, ordered sequence of job messages. Next returns
// io.EOF once the job has finished. Close may be called at any time to stop
// reading early and is safe to call more than once.
type Stream interface {
	Next(ctx context.Context) (Message, error)
	Close() error
}

// RemoteError reports a job failure announced by the app itself.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote job failed: " + e.Message
}

type rawMessage struct {
	Msg          string          `json:"msg"`
	EventID      string          `json:"event_id"`
	Output       *rawOutput      `json:"output"`
	Success      *bool           `json:"success"`
	Message      string          `json:"message"`
	Log          string          `json:"log"`
	Level        string          `json:"level"`
	Rank         *int            `json:"rank"`
	QueueSize    *int            `json:"queue_size"`
	ProgressData json.RawMessage `json:"progress_data"`
}

type rawOutput struct {
	Data  []any           `json:"data"`
	Error json.RawMessage `json:"error"`
}

func (o *rawOutput) errorText() string {
	if o == nil || len(o.Error) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(o.Error, &s); err == nil {
		return s
	}
	if string(o.Error) == "null" {
		return ""
	}
	return string(o.Error)
}

// queueDecoder turns raw queue messages into stream messages. It keeps the
// last full output for protocols that stream diffs.
type queueDecoder struct {
	client  *Client
	diffs   bool
	pending []any
	done    bool
}

// decode returns the message to emit, whether there is one, and a
// terminal error announced by the app.
func (d *queueDecoder) decode(raw rawMessage) (Message, bool, error) {
	switch raw.Msg {
	case "estimation":
		text := ""
		if raw.Rank != nil && raw.QueueSize != nil {
			text = fmt.Sprintf("queue position %d/%d", *raw.Rank+1, *raw.QueueSize)
		}
		return Message{Type: TypeStatus, Stage: "pending", Text: text}, true, nil

	case "process_starts":
		return Message{Type: TypeStatus, Stage: "started"}, true, nil

	case "progress":
		return Message{Type: TypeStatus, Stage: "progress", Text: string(raw.ProgressData)}, true, nil

	case "log":
		return Message{Type: TypeLog, Stage: raw.Level, Text: raw.Log}, true, nil

	case "process_generating":
		if raw.Output == nil || raw.Output.Data == nil {
			return Message{}, false, nil
		}
		outputs, err := d.generated(raw.Output.Data)
		if err != nil {
			return Message{}, false, err
		}
		data, err := d.client.encodeOutputs(outputs)
		if err != nil {
			return Message{}, false, err
		}
		return Message{Type: TypeData, Data: data}, true, nil

	case "process_completed":
		d.done = true
		d.pending = nil
		if raw.Success != nil && !*raw.Success {
			text := raw.Output.errorText()
			if text == "" {
				text = "job did not succeed"
			}
			return Message{}, false, &RemoteError{Message: text}
		}
		if raw.Output == nil || raw.Output.Data == nil {
			return Message{}, false, nil
		}
		data, err := d.client.encodeOutputs(raw.Output.Data)
		if err != nil {
			return Message{}, false, err
		}
		return Message{Type: TypeData, Data: data}, true, nil

	case "unexpected_error":
		d.done = true
		return Message{}, false, &RemoteError{Message: raw.Message}

	case "queue_full":
		d.done = true
		return Message{}, false, &RemoteError{Message: "queue is full"}

	case "close_stream":
		d.done = true
		return Message{}, false, nil

	default:
		// heartbeat and handshake messages carry nothing for the caller
		return Message{}, false, nil
	}
}

func (d *queueDecoder) generated(data []any) ([]any, error) {
	if !d.diffs {
		return data, nil
	}
	if d.pending == nil {
		d.pending = cloneJSON(data).([]any)
		return d.pending, nil
	}
	for i, diff := range data {
		if i >= len(d.pending) {
			d.pending = append(d.pending, nil)
		}
		v, err := applyDiff(d.pending[i], diff)
		if err != nil {
			return nil, fmt.Errorf("failed to apply diff to output %d: %w", i, err)
		}
		d.pending[i] = v
	}
	return d.pending, nil
}
