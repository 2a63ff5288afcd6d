package analyzer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bdougie/visionstream/internal/models"
)

func raw(values ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(values))
	for i, v := range values {
		out[i] = json.RawMessage(v)
	}
	return out
}

func TestDecodeEvent(t *testing.T) {
	status := func(s string) *string { return &s }
	label := func(l models.Label) *models.Label { return &l }
	artifact := func(u string) *models.Artifact { return &models.Artifact{URL: u} }

	tests := []struct {
		name string
		data []json.RawMessage
		want models.JobEvent
	}{
		{"empty", nil, models.JobEvent{}},
		{"all null", raw("null", "null", "null"), models.JobEvent{}},
		{"status only", raw(`"Processed frames: 30"`), models.JobEvent{Status: status("Processed frames: 30")}},
		{"empty status", raw(`""`), models.JobEvent{}},
		{"non-string status", raw(`12`), models.JobEvent{}},
		{"label zero is civilian", raw("null", "0"), models.JobEvent{Label: label(models.Civilian)}},
		{"label one is soldier", raw("null", "1"), models.JobEvent{Label: label(models.Soldier)}},
		{"float zero", raw("null", "0.0"), models.JobEvent{Label: label(models.Civilian)}},
		{"other numbers are soldiers", raw("null", "-3"), models.JobEvent{Label: label(models.Soldier)}},
		{"string label skipped", raw("null", `"1"`), models.JobEvent{}},
		{"bool label skipped", raw("null", "false"), models.JobEvent{}},
		{
			"single artifact",
			raw("null", "null", `{"video":{"path":"/tmp/out.mp4","url":"https://x/out.mp4"},"subtitles":null}`),
			models.JobEvent{Artifact: artifact("https://x/out.mp4")},
		},
		{
			"artifact sequence takes first",
			raw("null", "null", `[{"video":{"url":"https://a/1.mp4"}},{"video":{"url":"https://a/2.mp4"}}]`),
			models.JobEvent{Artifact: artifact("https://a/1.mp4")},
		},
		{"empty sequence", raw("null", "null", `[]`), models.JobEvent{}},
		{"descriptor without url", raw("null", "null", `{"video":{"path":"/tmp/x"}}`), models.JobEvent{}},
		{"wrong artifact shape", raw("null", "null", `"https://x/out.mp4"`), models.JobEvent{}},
		{
			"all fields",
			raw(`"done"`, "1", `{"video":{"url":"https://x/out.mp4"}}`),
			models.JobEvent{Status: status("done"), Label: label(models.Soldier), Artifact: artifact("https://x/out.mp4")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeEvent(tt.data))
		})
	}
}
