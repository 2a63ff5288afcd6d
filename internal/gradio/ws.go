package gradio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

type wsHashMessage struct {
	FnIndex     int    `json:"fn_index"`
	SessionHash string `json:"session_hash"`
}

type wsDataMessage struct {
	Data        []any  `json:"data"`
	EventData   any    `json:"event_data"`
	FnIndex     int    `json:"fn_index"`
	SessionHash string `json:"session_hash"`
}

func (c *Client) wsURL() string {
	u := c.root + "/queue/join"
	if rest, ok := strings.CutPrefix(u, "https://"); ok {
		return "wss://" + rest
	}
	if rest, ok := strings.CutPrefix(u, "http://"); ok {
		return "ws://" + rest
	}
	return u
}

func (c *Client) submitWS(ctx context.Context, fnIndex int, data []any) (Stream, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.wsURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue websocket: %w", err)
	}

	c.logger.Debug("job queued", "fn_index", fnIndex, "protocol", ProtocolWS)

	return &wsStream{
		conn:    conn,
		fnIndex: fnIndex,
		session: c.session,
		data:    data,
		decoder: &queueDecoder{client: c},
	}, nil
}

// wsStream reads a Gradio 3 queue websocket. The job payload is sent when
// the server asks for it during the handshake.
type wsStream struct {
	conn    *websocket.Conn
	fnIndex int
	session string
	data    []any
	decoder *queueDecoder

	writeMu   sync.Mutex // serialises handshake writes and the close frame
	closeOnce sync.Once
}

func (s *wsStream) Next(ctx context.Context) (Message, error) {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		if s.decoder.done {
			return Message{}, io.EOF
		}

		var raw rawMessage
		if err := s.conn.ReadJSON(&raw); err != nil {
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, io.EOF) {
				return Message{}, io.EOF
			}
			return Message{}, fmt.Errorf("failed to read queue websocket: %w", err)
		}

		switch raw.Msg {
		case "send_hash":
			if err := s.write(wsHashMessage{FnIndex: s.fnIndex, SessionHash: s.session}); err != nil {
				return Message{}, fmt.Errorf("failed to send session hash: %w", err)
			}
			continue
		case "send_data":
			err := s.write(wsDataMessage{Data: s.data, FnIndex: s.fnIndex, SessionHash: s.session})
			if err != nil {
				return Message{}, fmt.Errorf("failed to send job data: %w", err)
			}
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

func (s *wsStream) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = s.conn.Close()
	})
	return err
}
