package persistence

import "errors"

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("not found")

type TranscriptionStatus string

const (
	TranscriptionNotStarted   TranscriptionStatus = "not_started"
	TranscriptionQueued       TranscriptionStatus = "queued"
	TranscriptionDownloading  TranscriptionStatus = "downloading"
	TranscriptionTranscribing TranscriptionStatus = "transcribing"
	TranscriptionDone         TranscriptionStatus = "done"
	TranscriptionError        TranscriptionStatus = "error"
)

type DiarizationStatus string

const (
	DiarizationNotStarted DiarizationStatus = "not_started"
	DiarizationQueued     DiarizationStatus = "queued"
	DiarizationProcessing DiarizationStatus = "processing"
	DiarizationDone       DiarizationStatus = "done"
	DiarizationSolo       DiarizationStatus = "solo"
	DiarizationError      DiarizationStatus = "error"
)

type Episode struct {
	ID                  int64               `json:"id"`
	EpisodeNumber       *int                `json:"episode_number,omitempty"`
	Title               string              `json:"title"`
	PublishDate         string              `json:"publish_date,omitempty"`
	AudioURL            string              `json:"audio_url,omitempty"`
	DurationMinutes     *float64            `json:"duration_minutes,omitempty"`
	Description         string              `json:"description,omitempty"`
	PodcastName         string              `json:"podcast_name,omitempty"`
	TranscriptionStatus TranscriptionStatus `json:"transcription_status"`
	TranscriptionError  string              `json:"transcription_error,omitempty"`
	DiarizationStatus   DiarizationStatus   `json:"diarization_status"`
	DiarizationError    string              `json:"diarization_error,omitempty"`
	CreatedAt           string              `json:"created_at,omitempty"`
	UpdatedAt           string              `json:"updated_at,omitempty"`
}

// EpisodeMetadata is one remote feed record, before it has a row id.
type EpisodeMetadata struct {
	Title           string
	Description     string
	AudioURL        string
	PublishDate     string
	DurationMinutes *float64
	EpisodeNumber   *int
}

type Transcript struct {
	ID           int64  `json:"id"`
	EpisodeID    int64  `json:"episode_id"`
	FullText     string `json:"full_text"`
	SegmentsJSON string `json:"segments_json,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
	Language     string `json:"language,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
}

type DiarizationSegment struct {
	ID               int64    `json:"id"`
	EpisodeID        int64    `json:"episode_id"`
	StartMs          int64    `json:"start_ms"`
	EndMs            int64    `json:"end_ms"`
	SpeakerLabel     string   `json:"speaker_label"`
	CorrectedSpeaker *string  `json:"corrected_speaker,omitempty"`
	Confidence       *float64 `json:"confidence,omitempty"`
}

// EffectiveSpeaker applies the manual correction overlay.
func (s DiarizationSegment) EffectiveSpeaker() string {
	if s.CorrectedSpeaker != nil && *s.CorrectedSpeaker != "" {
		return *s.CorrectedSpeaker
	}
	return s.SpeakerLabel
}

type Topic struct {
	ID         int64    `json:"id"`
	EpisodeID  int64    `json:"episode_id"`
	Name       string   `json:"name"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// SpeakerTotal is the speaking time of one effective speaker in one episode.
type SpeakerTotal struct {
	EpisodeID         int64
	Title             string
	PublishDate       string
	AudioURL          string
	DiarizationStatus DiarizationStatus
	Speaker           string
	SpeakingMs        int64
	Turns             int
}

// ReconcileResult summarizes one feed reconciliation pass.
type ReconcileResult struct {
	Inserted          int   `json:"inserted"`
	DuplicatesRemoved int64 `json:"duplicates_removed"`
}
