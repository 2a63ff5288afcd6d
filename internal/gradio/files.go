package gradio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
)

// Uploadable is a file reference that can be passed as a job input.
// Hosted files report their URL and are sent by reference; local files
// report an empty URL and are uploaded to the app first.
type Uploadable interface {
	Name() string
	URL() string
	Open() (io.ReadCloser, error)
}

// FileData is the wire form of a file input or output.
type FileData struct {
	Path     string   `json:"path"`
	URL      string   `json:"url,omitempty"`
	OrigName string   `json:"orig_name,omitempty"`
	Meta     fileMeta `json:"meta"`

	// ws protocol (Gradio 3) fields
	Name   string `json:"name,omitempty"`
	IsFile bool   `json:"is_file,omitempty"`
}

type fileMeta struct {
	Type string `json:"_type"`
}

const fileDataType = "gradio.FileData"

func (c *Client) resolveFiles(ctx context.Context, v any) (any, error) {
	switch t := v.(type) {
	case Uploadable:
		return c.fileData(ctx, t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			r, err := c.resolveFiles(ctx, item)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			r, err := c.resolveFiles(ctx, item)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func (c *Client) fileData(ctx context.Context, f Uploadable) (FileData, error) {
	fd := FileData{OrigName: f.Name(), Meta: fileMeta{Type: fileDataType}}

	if u := f.URL(); u != "" {
		fd.Path = u
		fd.URL = u
		if fd.OrigName == "" {
			fd.OrigName = path.Base(u)
		}
	} else {
		p, err := c.upload(ctx, f)
		if err != nil {
			return FileData{}, err
		}
		fd.Path = p
		fd.URL = c.fileURL(p)
	}

	if c.protocol == ProtocolWS {
		fd.Name = fd.Path
		fd.IsFile = true
	}
	return fd, nil
}

// upload sends a local file to the app's upload route and returns the
// server-side path.
func (c *Client) upload(ctx context.Context, f Uploadable) (string, error) {
	src, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", f.Name(), err)
	}
	defer src.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("files", f.Name())
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, src); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", f.Name(), err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL("/upload"), &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var paths []string
	if err := c.doJSON(req, &paths); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", f.Name(), err)
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("upload of %s returned no path", f.Name())
	}
	return paths[0], nil
}

// normalizeFiles gives every file output without a url one that points
// at the app's file route.
func (c *Client) normalizeFiles(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = c.normalizeFiles(item)
		}
		if u, _ := t["url"].(string); u != "" {
			return t
		}
		if p, ok := t["path"].(string); ok && p != "" {
			t["url"] = c.fileURL(p)
		} else if isFile, _ := t["is_file"].(bool); isFile {
			if name, ok := t["name"].(string); ok && name != "" {
				t["url"] = c.fileURL(name)
			}
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = c.normalizeFiles(item)
		}
		return t
	default:
		return v
	}
}

func (c *Client) encodeOutputs(values []any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(values))
	for i, v := range values {
		raw, err := json.Marshal(c.normalizeFiles(cloneJSON(v)))
		if err != nil {
			return nil, fmt.Errorf("failed to encode output %d: %w", i, err)
		}
		out[i] = raw
	}
	return out, nil
}
