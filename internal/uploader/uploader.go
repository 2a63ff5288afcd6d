// Package uploader puts videos in object storage and returns their public
// URLs.
package uploader

import (
	"context"

	"github.com/bdougie/visionstream/internal/media"
)

// DefaultPreset is the Cloudinary upload preset, also used as the S3 key
// prefix.
const DefaultPreset = "uploaded_videos"

// Uploader stores a video and returns a URL the inference service can read.
type Uploader interface {
	Upload(ctx context.Context, file *media.File, preset string) (string, error)
}
