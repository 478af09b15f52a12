package queue

import (
	"testing"
	"time"

	"github.com/sattu-dealer/Image-Tools/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessImageTaskCarriesOptions(t *testing.T) {
	brightness := 1.5
	target := int64(20 * 1024)
	payload := ProcessImagePayload{
		RecordID:     "rec-123",
		OwnerID:      "user-1",
		OriginalName: "photo.png",
		SourceKey:    "uploads/rec-123/source",
		Options: domain.Options{
			Format:          domain.FormatWebP,
			Width:           200,
			Height:          100,
			Brightness:      &brightness,
			TargetSizeBytes: &target,
		},
		RequestedAt: time.Now().UTC(),
	}

	task, err := NewProcessImageTask(payload)
	require.NoError(t, err)
	assert.Equal(t, TypeProcessImage, task.Type())

	parsed, err := ParseProcessImagePayload(task)
	require.NoError(t, err)
	assert.Equal(t, "rec-123", parsed.RecordID)
	assert.Equal(t, domain.FormatWebP, parsed.Options.Format)
	require.NotNil(t, parsed.Options.TargetSizeBytes)
	assert.Equal(t, target, *parsed.Options.TargetSizeBytes)
	require.NotNil(t, parsed.Options.Brightness)
	assert.Equal(t, 1.5, *parsed.Options.Brightness)
	assert.Nil(t, parsed.Options.Contrast)
}

func TestNewProcessImageTaskRequiresSource(t *testing.T) {
	_, err := NewProcessImageTask(ProcessImagePayload{RecordID: "rec-1"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}
