package gradio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

type joinRequest struct {
	Data        []any  `json:"data"`
	EventData   any    `json:"event_data"`
	FnIndex     int    `json:"fn_index"`
	TriggerID   any    `json:"trigger_id"`
	SessionHash string `json:"session_hash"`
}

type joinResponse struct {
	EventID string `json:"event_id"`
}

func (c *Client) submitSSE(ctx context.Context, fnIndex int, data []any) (Stream, error) {
	var joined joinResponse
	err := c.postJSON(ctx, c.apiURL("/queue/join"), joinRequest{
		Data:        data,
		FnIndex:     fnIndex,
		SessionHash: c.session,
	}, &joined)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusServiceUnavailable {
			return nil, &RemoteError{Message: "queue is full"}
		}
		return nil, fmt.Errorf("failed to join queue: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	u := c.apiURL("/queue/data") + "?session_hash=" + url.QueryEscape(c.session)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, u, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		cancel()
		return nil, &StatusError{Method: req.Method, URL: u, Code: resp.StatusCode, Body: string(body)}
	}

	c.logger.Debug("job queued", "event_id", joined.EventID, "fn_index", fnIndex)

	return &sseStream{
		eventID: joined.EventID,
		body:    resp.Body,
		reader:  bufio.NewReader(resp.Body),
		cancel:  cancel,
		decoder: &queueDecoder{
			client: c,
			diffs:  c.protocol == ProtocolSSEV21 || c.protocol == ProtocolSSEV3,
		},
	}, nil
}

type sseStream struct {
	eventID string
	body    io.ReadCloser
	reader  *bufio.Reader
	decoder *queueDecoder

	closeOnce sync.Once
	cancel    context.CancelFunc
}

func (s *sseStream) Next(ctx context.Context) (Message, error) {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		if s.decoder.done {
			return Message{}, io.EOF
		}

		payload, err := s.readEvent()
		if err != nil {
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return Message{}, io.EOF
			}
			return Message{}, fmt.Errorf("failed to read event stream: %w", err)
		}

		var raw rawMessage
		if err := json.Unmarshal(payload, &raw); err != nil {
			continue
		}
		if raw.EventID != "" && raw.EventID != s.eventID {
			continue
		}

		msg, ok, err := s.decoder.decode(raw)
		if err != nil {
			return Message{}, err
		}
		if ok {
			return msg, nil
		}
	}
}

// readEvent returns the data of the next server-sent event.
func (s *sseStream) readEvent() ([]byte, error) {
	var data []string
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if len(data) > 0 && errors.Is(err, io.EOF) {
				return []byte(strings.Join(data, "\n")), nil
			}
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(data) > 0 {
				return []byte(strings.Join(data, "\n")), nil
			}
			continue
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(v, " "))
		}
	}
}

func (s *sseStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.body.Close()
	})
	return err
}
