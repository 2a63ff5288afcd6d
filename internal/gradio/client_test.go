package gradio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type localFile struct {
	name    string
	content string
}

func (f localFile) Name() string { return f.name }
func (f localFile) URL() string  { return "" }
func (f localFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.content)), nil
}

type hostedFile struct{ url string }

func (f hostedFile) Name() string                 { return "" }
func (f hostedFile) URL() string                  { return f.url }
func (f hostedFile) Open() (io.ReadCloser, error) { return nil, errors.New("hosted") }

// fakeApp emulates the HTTP surface of a Gradio app using an sse protocol.
type fakeApp struct {
	t        *testing.T
	protocol string
	events   []string // raw JSON written as data: lines on the queue stream
	joinCode int
	block    bool // keep the stream open after events

	mu       sync.Mutex
	join     joinRequest
	uploaded string
}

func (a *fakeApp) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"protocol":%q,"api_prefix":"/gradio_api","dependencies":[
			{"id":0,"api_name":"upload_other"},
			{"id":1,"api_name":false},
			{"id":7,"api_name":"predict"}]}`, a.protocol)
	})
	mux.HandleFunc("/gradio_api/info", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"named_endpoints":{"/predict":{"parameters":[
			{"parameter_name":"input_video_path","parameter_has_default":false},
			{"parameter_name":"threshold","parameter_has_default":true,"parameter_default":0.5}]}}}`)
	})
	mux.HandleFunc("/gradio_api/upload", func(w http.ResponseWriter, r *http.Request) {
		f, header, err := r.FormFile("files")
		if !assert.NoError(a.t, err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		a.mu.Lock()
		a.uploaded = header.Filename + ":" + string(body)
		a.mu.Unlock()
		fmt.Fprintf(w, `["/tmp/gradio/abc/%s"]`, header.Filename)
	})
	mux.HandleFunc("/gradio_api/queue/join", func(w http.ResponseWriter, r *http.Request) {
		if a.joinCode != 0 {
			http.Error(w, "busy", a.joinCode)
			return
		}
		var req joinRequest
		require.NoError(a.t, json.NewDecoder(r.Body).Decode(&req))
		a.mu.Lock()
		a.join = req
		a.mu.Unlock()
		io.WriteString(w, `{"event_id":"evt-1"}`)
	})
	mux.HandleFunc("/gradio_api/queue/data", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(a.t, r.URL.Query().Get("session_hash"))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range a.events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
		w.(http.Flusher).Flush()
		if a.block {
			<-r.Context().Done()
		}
	})
	return mux
}

func (a *fakeApp) uploadedFile() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.uploaded
}

func (a *fakeApp) joined() joinRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.join
}

func collect(t *testing.T, s Stream) ([]Message, error) {
	t.Helper()
	var msgs []Message
	for {
		m, err := s.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return msgs, nil
		}
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, m)
	}
}

func dataStrings(m Message) []string {
	out := make([]string, len(m.Data))
	for i, d := range m.Data {
		out[i] = string(d)
	}
	return out
}

func TestSubmitSSEV3(t *testing.T) {
	app := &fakeApp{t: t, protocol: ProtocolSSEV3, events: []string{
		`{"msg":"heartbeat"}`,
		`{"msg":"estimation","event_id":"evt-1","rank":0,"queue_size":2}`,
		`{"msg":"process_generating","event_id":"other","output":{"data":["not ours",1,null]}}`,
		`{"msg":"process_starts","event_id":"evt-1"}`,
		`{"msg":"process_generating","event_id":"evt-1","output":{"data":["Processed frames: 1",0,null]},"success":true}`,
		`{"msg":"process_generating","event_id":"evt-1","output":{"data":[[["append",[],"0"]],[["replace",[],1]],[]]},"success":true}`,
		`{"msg":"process_generating","event_id":"evt-1","output":{"data":[[],[],[["replace",[],{"video":{"path":"/tmp/out.mp4","url":null},"subtitles":null}]]]},"success":true}`,
		`{"msg":"process_completed","event_id":"evt-1","output":{"data":["Processed frames: 10",null,null]},"success":true}`,
		`{"msg":"process_generating","event_id":"evt-1","output":{"data":["after completion",1,null]}}`,
	}}
	srv := httptest.NewServer(app.handler())
	defer srv.Close()

	c, err := Connect(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, ProtocolSSEV3, c.Protocol())

	stream, err := c.Submit(context.Background(), "/predict", map[string]any{
		"input_video_path": map[string]any{"video": localFile{name: "clip.mp4", content: "frames"}},
	})
	require.NoError(t, err)
	defer stream.Close()

	msgs, err := collect(t, stream)
	require.NoError(t, err)
	require.Len(t, msgs, 6)

	assert.Equal(t, Message{Type: TypeStatus, Stage: "pending", Text: "queue position 1/2"}, msgs[0])
	assert.Equal(t, Message{Type: TypeStatus, Stage: "started"}, msgs[1])

	assert.Equal(t, []string{`"Processed frames: 1"`, `0`, `null`}, dataStrings(msgs[2]))
	assert.Equal(t, []string{`"Processed frames: 10"`, `1`, `null`}, dataStrings(msgs[3]))

	require.Equal(t, TypeData, msgs[4].Type)
	var artifact struct {
		Video struct {
			Path string `json:"path"`
			URL  string `json:"url"`
		} `json:"video"`
	}
	require.NoError(t, json.Unmarshal(msgs[4].Data[2], &artifact))
	assert.Equal(t, "/tmp/out.mp4", artifact.Video.Path)
	assert.Equal(t, srv.URL+"/gradio_api/file=/tmp/out.mp4", artifact.Video.URL)
	assert.Equal(t, `"Processed frames: 10"`, string(msgs[4].Data[0]))

	assert.Equal(t, []string{`"Processed frames: 10"`, `null`, `null`}, dataStrings(msgs[5]))

	join := app.joined()
	assert.Equal(t, 7, join.FnIndex)
	assert.Equal(t, c.session, join.SessionHash)
	require.Len(t, join.Data, 2)
	assert.Equal(t, 0.5, join.Data[1])

	input, ok := join.Data[0].(map[string]any)
	require.True(t, ok)
	video, ok := input["video"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/tmp/gradio/abc/clip.mp4", video["path"])
	assert.Equal(t, "clip.mp4", video["orig_name"])
	assert.Equal(t, map[string]any{"_type": "gradio.FileData"}, video["meta"])
	assert.Equal(t, "clip.mp4:frames", app.uploadedFile())
}

func TestSubmitHostedFileSkipsUpload(t *testing.T) {
	app := &fakeApp{t: t, protocol: ProtocolSSEV2, events: []string{
		`{"msg":"process_completed","event_id":"evt-1","output":{"data":["ok",0,null]},"success":true}`,
	}}
	srv := httptest.NewServer(app.handler())
	defer srv.Close()

	c, err := Connect(context.Background(), srv.URL)
	require.NoError(t, err)

	stream, err := c.Submit(context.Background(), "predict", map[string]any{
		"input_video_path": map[string]any{"video": hostedFile{url: "https://cdn.example/v/clip.mp4"}},
	})
	require.NoError(t, err)
	msgs, err := collect(t, stream)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	assert.Empty(t, app.uploadedFile())
	video := app.joined().Data[0].(map[string]any)["video"].(map[string]any)
	assert.Equal(t, "https://cdn.example/v/clip.mp4", video["path"])
	assert.Equal(t, "https://cdn.example/v/clip.mp4", video["url"])
	assert.Equal(t, "clip.mp4", video["orig_name"])
}

func TestSubmitRemoteFailures(t *testing.T) {
	tests := []struct {
		name  string
		event string
		want  string
	}{
		{"failed completion", `{"msg":"process_completed","event_id":"evt-1","output":{"error":"CUDA out of memory"},"success":false}`, "CUDA out of memory"},
		{"failed completion without detail", `{"msg":"process_completed","event_id":"evt-1","output":{"error":null},"success":false}`, "job did not succeed"},
		{"unexpected error", `{"msg":"unexpected_error","event_id":"evt-1","message":"worker crashed"}`, "worker crashed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := &fakeApp{t: t, protocol: ProtocolSSEV1, events: []string{tt.event}}
			srv := httptest.NewServer(app.handler())
			defer srv.Close()

			c, err := Connect(context.Background(), srv.URL)
			require.NoError(t, err)
			stream, err := c.Submit(context.Background(), "/predict", map[string]any{"input_video_path": nil})
			require.NoError(t, err)
			defer stream.Close()

			_, err = collect(t, stream)
			var remote *RemoteError
			require.ErrorAs(t, err, &remote)
			assert.Equal(t, tt.want, remote.Message)
		})
	}
}

func TestSubmitQueueFull(t *testing.T) {
	app := &fakeApp{t: t, protocol: ProtocolSSEV3, joinCode: http.StatusServiceUnavailable}
	srv := httptest.NewServer(app.handler())
	defer srv.Close()

	c, err := Connect(context.Background(), srv.URL)
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), "/predict", map[string]any{"input_video_path": nil})
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "queue is full", remote.Message)
}

func TestSubmitValidation(t *testing.T) {
	app := &fakeApp{t: t, protocol: ProtocolSSEV3}
	srv := httptest.NewServer(app.handler())
	defer srv.Close()

	c, err := Connect(context.Background(), srv.URL)
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), "/missing", nil)
	assert.ErrorContains(t, err, `endpoint "/missing" not found`)

	_, err = c.Submit(context.Background(), "/predict", map[string]any{"bogus": 1})
	assert.ErrorContains(t, err, `unknown parameter "bogus"`)
}

func TestSubmitStreamEndsWithoutCompletion(t *testing.T) {
	app := &fakeApp{t: t, protocol: ProtocolSSEV3, events: []string{
		`{"msg":"process_generating","event_id":"evt-1","output":{"data":["frames 1",null,null]}}`,
	}}
	srv := httptest.NewServer(app.handler())
	defer srv.Close()

	c, err := Connect(context.Background(), srv.URL)
	require.NoError(t, err)
	stream, err := c.Submit(context.Background(), "/predict", map[string]any{"input_video_path": nil})
	require.NoError(t, err)

	msgs, err := collect(t, stream)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestStreamHonorsContext(t *testing.T) {
	app := &fakeApp{t: t, protocol: ProtocolSSEV3, block: true, events: []string{`{"msg":"heartbeat"}`}}
	srv := httptest.NewServer(app.handler())
	defer srv.Close()

	c, err := Connect(context.Background(), srv.URL)
	require.NoError(t, err)
	stream, err := c.Submit(context.Background(), "/predict", map[string]any{"input_video_path": nil})
	require.NoError(t, err)
	defer stream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go cancel()
	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnectUnsupportedProtocol(t *testing.T) {
	app := &fakeApp{t: t, protocol: "sse"}
	srv := httptest.NewServer(app.handler())
	defer srv.Close()

	_, err := Connect(context.Background(), srv.URL)
	assert.ErrorContains(t, err, `unsupported queue protocol "sse"`)
}

func TestConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := Connect(context.Background(), srv.URL)
	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusNotFound, status.Code)
}

func TestSubmitWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan wsDataMessage, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"dependencies":[{"api_name":"predict"}]}`)
	})
	mux.HandleFunc("/queue/join", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(map[string]string{"msg": "send_hash"}))
		var hash wsHashMessage
		require.NoError(t, conn.ReadJSON(&hash))
		assert.NotEmpty(t, hash.SessionHash)

		require.NoError(t, conn.WriteJSON(map[string]string{"msg": "send_data"}))
		var data wsDataMessage
		require.NoError(t, conn.ReadJSON(&data))
		received <- data

		for _, m := range []string{
			`{"msg":"estimation","rank":0,"queue_size":1}`,
			`{"msg":"process_starts"}`,
			`{"msg":"process_generating","output":{"data":["frames 1",1,null]}}`,
			`{"msg":"process_completed","output":{"data":["done",null,{"video":{"name":"/tmp/o.mp4","is_file":true}}]},"success":true}`,
		} {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(m)))
		}
		conn.ReadMessage() // wait for the client to close
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := Connect(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, ProtocolWS, c.Protocol())

	// Without /info a single named parameter maps positionally.
	stream, err := c.Submit(context.Background(), "/predict", map[string]any{
		"input_video_path": map[string]any{"video": hostedFile{url: "https://cdn.example/clip.mp4"}},
	})
	require.NoError(t, err)
	defer stream.Close()

	msgs, err := collect(t, stream)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, TypeStatus, msgs[0].Type)
	assert.Equal(t, []string{`"frames 1"`, `1`, `null`}, dataStrings(msgs[2]))
	assert.JSONEq(t,
		fmt.Sprintf(`{"video":{"name":"/tmp/o.mp4","is_file":true,"url":%q}}`, srv.URL+"/file=/tmp/o.mp4"),
		string(msgs[3].Data[2]))

	data := <-received
	assert.Equal(t, 0, data.FnIndex)
	require.Len(t, data.Data, 1)
	video := data.Data[0].(map[string]any)["video"].(map[string]any)
	assert.Equal(t, "https://cdn.example/clip.mp4", video["name"])
	assert.Equal(t, true, video["is_file"])
}
