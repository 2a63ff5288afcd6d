package uploader

import (
	"context"

	"github.com/bdougie/visionstream/internal/media"
	"github.com/bdougie/visionstream/internal/models"
)

// LogSink receives the user-facing upload log.
type LogSink interface {
	AddLog(message string, severity models.Severity)
}

// Stage uploads file and returns a hosted reference to it, logging the
// outcome to sink.
func Stage(ctx context.Context, up Uploader, file *media.File, preset string, sink LogSink) (*media.File, error) {
	url, err := up.Upload(ctx, file, preset)
	if err != nil {
		sink.AddLog("Failed to upload file", models.SeverityWarning)
		return nil, err
	}
	sink.AddLog("Video file successfully uploaded to the server.", models.SeveritySuccess)
	return media.FromURL(url)
}
