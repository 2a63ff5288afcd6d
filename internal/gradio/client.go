package gradio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Queue protocols advertised by a Gradio app's /config.
const (
	ProtocolWS     = "ws"
	ProtocolSSEV1  = "sse_v1"
	ProtocolSSEV2  = "sse_v2"
	ProtocolSSEV21 = "sse_v2.1"
	ProtocolSSEV3  = "sse_v3"
)

// Client is a connected handle to a Gradio app.
type Client struct {
	root     string
	prefix   string
	protocol string
	session  string

	deps   []dependency
	params map[string][]parameter

	http   *http.Client
	dialer *websocket.Dialer
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for every request. The
// client must not set a Timeout since job streams are long lived.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithDialer overrides the websocket dialer used by the ws protocol.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithLogger sets the logger used for protocol debug output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

type appConfig struct {
	Protocol     string       `json:"protocol"`
	APIPrefix    string       `json:"api_prefix"`
	Root         string       `json:"root"`
	Dependencies []dependency `json:"dependencies"`
}

type dependency struct {
	ID      *int            `json:"id"`
	APIName json.RawMessage `json:"api_name"`
}

// name returns the api name, or "" when the app set api_name to false.
func (d dependency) name() string {
	var s string
	if err := json.Unmarshal(d.APIName, &s); err != nil {
		return ""
	}
	return s
}

type apiInfo struct {
	NamedEndpoints map[string]endpointInfo `json:"named_endpoints"`
}

type endpointInfo struct {
	Parameters []parameter `json:"parameters"`
}

type parameter struct {
	Name       string          `json:"parameter_name"`
	HasDefault bool            `json:"parameter_has_default"`
	Default    json.RawMessage `json:"parameter_default"`
}

// Connect fetches the app configuration from address and returns a client
// bound to a fresh session hash.
func Connect(ctx context.Context, address string, opts ...Option) (*Client, error) {
	c := &Client{
		root:    strings.TrimRight(address, "/"),
		session: uuid.NewString(),
		params:  map[string][]parameter{},
		http:    &http.Client{},
		dialer:  websocket.DefaultDialer,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	var cfg appConfig
	if err := c.getJSON(ctx, c.root+"/config", &cfg); err != nil {
		return nil, fmt.Errorf("failed to fetch app config: %w", err)
	}

	if cfg.Root != "" {
		c.root = strings.TrimRight(cfg.Root, "/")
	}
	c.prefix = strings.TrimRight(cfg.APIPrefix, "/")
	c.deps = cfg.Dependencies
	c.protocol = cfg.Protocol
	if c.protocol == "" {
		c.protocol = ProtocolWS
	}

	switch c.protocol {
	case ProtocolWS, ProtocolSSEV1, ProtocolSSEV2, ProtocolSSEV21, ProtocolSSEV3:
	default:
		return nil, fmt.Errorf("unsupported queue protocol %q", c.protocol)
	}

	// Older apps do not serve /info; named parameters then fall back to
	// positional order.
	var info apiInfo
	if err := c.getJSON(ctx, c.apiURL("/info"), &info); err != nil {
		c.logger.Debug("api info unavailable", "error", err)
	} else {
		for name, ep := range info.NamedEndpoints {
			c.params[strings.TrimPrefix(name, "/")] = ep.Parameters
		}
	}

	c.logger.Debug("connected to gradio app",
		"root", c.root,
		"protocol", c.protocol,
		"endpoints", len(c.deps))

	return c, nil
}

// Protocol returns the queue protocol negotiated at connect time.
func (c *Client) Protocol() string {
	return c.protocol
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Submit starts a job on endpoint with named parameters and returns its
// event stream. Uploadable values anywhere in params are uploaded (or
// referenced by URL) before the job is queued.
func (c *Client) Submit(ctx context.Context, endpoint string, params map[string]any) (Stream, error) {
	fnIndex, err := c.fnIndex(endpoint)
	if err != nil {
		return nil, err
	}

	data, err := c.orderParams(endpoint, params)
	if err != nil {
		return nil, err
	}

	for i, v := range data {
		resolved, err := c.resolveFiles(ctx, v)
		if err != nil {
			return nil, err
		}
		data[i] = resolved
	}

	if c.protocol == ProtocolWS {
		return c.submitWS(ctx, fnIndex, data)
	}
	return c.submitSSE(ctx, fnIndex, data)
}

func (c *Client) fnIndex(endpoint string) (int, error) {
	name := strings.TrimPrefix(endpoint, "/")
	for i, dep := range c.deps {
		if dep.name() != name {
			continue
		}
		if dep.ID != nil {
			return *dep.ID, nil
		}
		return i, nil
	}
	return 0, fmt.Errorf("endpoint %q not found", endpoint)
}

func (c *Client) orderParams(endpoint string, params map[string]any) ([]any, error) {
	spec, ok := c.params[strings.TrimPrefix(endpoint, "/")]
	if !ok {
		if len(params) > 1 {
			return nil, fmt.Errorf("cannot order %d named parameters for %q without api info", len(params), endpoint)
		}
		data := make([]any, 0, len(params))
		for _, v := range params {
			data = append(data, v)
		}
		return data, nil
	}

	known := make(map[string]bool, len(spec))
	data := make([]any, len(spec))
	for i, p := range spec {
		known[p.Name] = true
		if v, ok := params[p.Name]; ok {
			data[i] = v
			continue
		}
		if p.HasDefault && len(p.Default) > 0 {
			data[i] = p.Default
		}
	}
	for name := range params {
		if !known[name] {
			return nil, fmt.Errorf("unknown parameter %q for %q", name, endpoint)
		}
	}
	return data, nil
}

func (c *Client) apiURL(path string) string {
	return c.root + c.prefix + path
}

func (c *Client) fileURL(path string) string {
	return c.apiURL("/file=" + path)
}

func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, v)
}

func (c *Client) postJSON(ctx context.Context, url string, body, v any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, v)
}

func (c *Client) doJSON(req *http.Request, v any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: req.Method, URL: req.URL.String(), Code: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", req.URL.Path, err)
	}
	return nil
}

// StatusError is returned when the app answers with a non-2xx status.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.Code, strings.TrimSpace(e.Body))
}
