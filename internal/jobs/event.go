package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind names one family of background jobs. Each kind has its own runner
// and its own Coordinator.
type Kind string

const (
	KindTranscription Kind = "transcription"
	KindDiarization   Kind = "diarization"
)

func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindTranscription:
		return KindTranscription, nil
	case KindDiarization:
		return KindDiarization, nil
	default:
		return "", fmt.Errorf("unknown job kind %q", raw)
	}
}

type EventType string

const (
	EventDownloading EventType = "Downloading"
	EventProgress    EventType = "Progress"
	EventSegment     EventType = "Segment"
	EventDone        EventType = "Done"
	EventError       EventType = "Error"
	EventCancelled   EventType = "Cancelled"
)

// Event is one message of a job invocation's stream. Only the fields that
// belong to Type are meaningful.
type Event struct {
	Type     EventType
	Percent  int
	EntityID int64
	Message  string

	// Segment payload.
	Text    string
	StartMs int64
	EndMs   int64
}

func Downloading(percent int) Event { return Event{Type: EventDownloading, Percent: percent} }
func Progress(percent int) Event    { return Event{Type: EventProgress, Percent: percent} }
func Done(entityID int64) Event     { return Event{Type: EventDone, EntityID: entityID} }
func Failed(message string) Event   { return Event{Type: EventError, Message: message} }
func Cancelled() Event              { return Event{Type: EventCancelled} }

func Segment(text string, startMs, endMs int64) Event {
	return Event{Type: EventSegment, Text: text, StartMs: startMs, EndMs: endMs}
}

// Terminal reports whether e ends its invocation.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventDone, EventError, EventCancelled:
		return true
	}
	return false
}

// HasPercent reports whether e carries a completion percent.
func (e Event) HasPercent() bool {
	return e.Type == EventDownloading || e.Type == EventProgress
}

func (e Event) String() string {
	switch e.Type {
	case EventDownloading, EventProgress:
		return fmt.Sprintf("%s{%d}", e.Type, e.Percent)
	case EventDone:
		return fmt.Sprintf("Done{%d}", e.EntityID)
	case EventError:
		return fmt.Sprintf("Error{%q}", e.Message)
	case EventSegment:
		return fmt.Sprintf("Segment{%d-%d}", e.StartMs, e.EndMs)
	default:
		return string(e.Type)
	}
}

type wireEvent struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type percentData struct {
	Percent int `json:"percent"`
}

type doneData struct {
	EpisodeID int64 `json:"episode_id"`
}

type errorData struct {
	Message string `json:"message"`
}

type segmentData struct {
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

// MarshalJSON encodes the {"event": ..., "data": {...}} channel shape.
func (e Event) MarshalJSON() ([]byte, error) {
	var data any
	switch e.Type {
	case EventDownloading, EventProgress:
		data = percentData{Percent: e.Percent}
	case EventDone:
		data = doneData{EpisodeID: e.EntityID}
	case EventError:
		data = errorData{Message: e.Message}
	case EventSegment:
		data = segmentData{Text: e.Text, StartMs: e.StartMs, EndMs: e.EndMs}
	case EventCancelled:
		data = struct{}{}
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{Event: e.Type, Data: raw})
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	data := w.Data
	if len(data) == 0 || string(data) == "null" {
		data = []byte("{}")
	}

	out := Event{Type: w.Event}
	switch w.Event {
	case EventDownloading, EventProgress:
		var d percentData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("decode %s: %w", w.Event, err)
		}
		out.Percent = d.Percent
	case EventDone:
		var d doneData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("decode Done: %w", err)
		}
		out.EntityID = d.EpisodeID
	case EventError:
		var d errorData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("decode Error: %w", err)
		}
		out.Message = d.Message
	case EventSegment:
		var d segmentData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("decode Segment: %w", err)
		}
		out.Text, out.StartMs, out.EndMs = d.Text, d.StartMs, d.EndMs
	case EventCancelled:
	default:
		return fmt.Errorf("unknown event type %q", w.Event)
	}
	*e = out
	return nil
}
