package analyzer

import (
	"encoding/json"

	"github.com/bdougie/visionstream/internal/models"
)

// Positions of the outputs of the predict endpoint.
const (
	statusIndex   = 0
	labelIndex    = 1
	artifactIndex = 2
)

type videoDescriptor struct {
	Video *struct {
		URL string `json:"url"`
	} `json:"video"`
}

// decodeEvent maps the positional outputs of a data message onto a
// JobEvent. Fields that are absent, null or of the wrong shape are left nil.
func decodeEvent(data []json.RawMessage) models.JobEvent {
	var ev models.JobEvent

	if raw := field(data, statusIndex); raw != nil {
		var status string
		if json.Unmarshal(raw, &status) == nil && status != "" {
			ev.Status = &status
		}
	}

	if raw := field(data, labelIndex); raw != nil {
		var n float64
		if json.Unmarshal(raw, &n) == nil {
			label := models.Soldier
			if n == 0 {
				label = models.Civilian
			}
			ev.Label = &label
		}
	}

	if raw := field(data, artifactIndex); raw != nil {
		if url := artifactURL(raw); url != "" {
			ev.Artifact = &models.Artifact{URL: url}
		}
	}

	return ev
}

func field(data []json.RawMessage, i int) json.RawMessage {
	if i >= len(data) {
		return nil
	}
	raw := data[i]
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

// artifactURL reads {video: {url}} or the first element of a sequence of
// them.
func artifactURL(raw json.RawMessage) string {
	var list []videoDescriptor
	if json.Unmarshal(raw, &list) == nil {
		if len(list) == 0 || list[0].Video == nil {
			return ""
		}
		return list[0].Video.URL
	}

	var one videoDescriptor
	if json.Unmarshal(raw, &one) == nil && one.Video != nil {
		return one.Video.URL
	}
	return ""
}
