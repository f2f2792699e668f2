package jobs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_WireShape(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{"downloading", Downloading(12), `{"event":"Downloading","data":{"percent":12}}`},
		{"progress", Progress(40), `{"event":"Progress","data":{"percent":40}}`},
		{"done", Done(7), `{"event":"Done","data":{"episode_id":7}}`},
		{"error", Failed("no model"), `{"event":"Error","data":{"message":"no model"}}`},
		{"cancelled", Cancelled(), `{"event":"Cancelled","data":{}}`},
		{"segment", Segment("hi", 10, 900), `{"event":"Segment","data":{"text":"hi","start_ms":10,"end_ms":900}}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			raw, err := json.Marshal(tt.ev)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))

			var decoded Event
			require.NoError(t, json.Unmarshal([]byte(tt.want), &decoded))
			assert.Equal(t, tt.ev, decoded)
		})
	}
}

func TestEvent_DecodeCancelledWithoutData(t *testing.T) {
	t.Parallel()

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(`{"event":"Cancelled"}`), &ev))
	assert.Equal(t, Cancelled(), ev)
	assert.True(t, ev.Terminal())
}

func TestEvent_DecodeUnknown(t *testing.T) {
	t.Parallel()

	var ev Event
	assert.Error(t, json.Unmarshal([]byte(`{"event":"Paused","data":{}}`), &ev))
}

func TestEvent_Terminal(t *testing.T) {
	t.Parallel()

	assert.False(t, Downloading(1).Terminal())
	assert.False(t, Progress(1).Terminal())
	assert.False(t, Segment("", 0, 0).Terminal())
	assert.True(t, Done(1).Terminal())
	assert.True(t, Failed("x").Terminal())
	assert.True(t, Cancelled().Terminal())
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	k, err := ParseKind(" Transcription ")
	require.NoError(t, err)
	assert.Equal(t, KindTranscription, k)

	k, err = ParseKind("diarization")
	require.NoError(t, err)
	assert.Equal(t, KindDiarization, k)

	_, err = ParseKind("topics")
	assert.Error(t, err)
}
