package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/bdougie/visionstream/internal/media"
)

// Cloudinary performs unsigned uploads to a Cloudinary upload URL such as
// https://api.cloudinary.com/v1_1/<cloud>/upload.
type Cloudinary struct {
	uploadURL string
	client    *http.Client
}

func NewCloudinary(uploadURL string, client *http.Client) *Cloudinary {
	if client == nil {
		client = http.DefaultClient
	}
	return &Cloudinary{uploadURL: uploadURL, client: client}
}

type cloudinaryResponse struct {
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Cloudinary) Upload(ctx context.Context, file *media.File, preset string) (string, error) {
	if u := file.URL(); u != "" {
		return u, nil
	}
	if preset == "" {
		preset = DefaultPreset
	}

	src, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", file.Name(), err)
	}
	defer src.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := mw.WriteField("upload_preset", preset)
		if err == nil {
			var part io.Writer
			part, err = mw.CreateFormFile("file", file.Name())
			if err == nil {
				_, err = io.Copy(part, src)
			}
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, pr)
	if err != nil {
		pr.Close()
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("cloudinary upload failed: %w", err)
	}
	defer resp.Body.Close()

	var out cloudinaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode cloudinary response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := resp.Status
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return "", fmt.Errorf("cloudinary upload rejected: %s", msg)
	}
	if out.SecureURL == "" {
		return "", fmt.Errorf("cloudinary response has no secure_url")
	}
	return out.SecureURL, nil
}
