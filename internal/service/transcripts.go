package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/MimeLyc/binky/internal/jobs"
	"github.com/MimeLyc/binky/internal/persistence"
	"github.com/MimeLyc/binky/internal/subtitle"
	"github.com/MimeLyc/binky/internal/transcript"
	"github.com/MimeLyc/binky/pkg/log"
)

// ErrTranscriptBusy refuses deleting the transcript of the episode that is
// being transcribed right now.
var ErrTranscriptBusy = errors.New("transcript is being processed")

type TranscriptStore interface {
	GetTranscript(ctx context.Context, episodeID int64) (*persistence.Transcript, error)
	SetTranscriptLanguage(ctx context.Context, episodeID int64, lang string) error
	DeleteTranscript(ctx context.Context, episodeID int64) error
	ListDiarizationSegments(ctx context.Context, episodeID int64) ([]persistence.DiarizationSegment, error)
}

// TranscriptView is what the reader screen renders for one episode.
type TranscriptView struct {
	EpisodeID  int64                  `json:"episode_id"`
	ModelName  string                 `json:"model_name,omitempty"`
	Language   string                 `json:"language,omitempty"`
	Paragraphs []transcript.Paragraph `json:"paragraphs"`

	Search     *transcript.SearchResult `json:"search,omitempty"`
	Cursor     int                      `json:"cursor"`
	Highlights [][]transcript.Span      `json:"highlights,omitempty"`
}

type Transcripts struct {
	store  TranscriptStore
	runner jobs.Runner
	coord  *jobs.Coordinator
}

// NewTranscripts guards deletes with the transcription runner and its
// coordinator.
func NewTranscripts(store TranscriptStore, runner jobs.Runner, coord *jobs.Coordinator) *Transcripts {
	return &Transcripts{store: store, runner: runner, coord: coord}
}

// Load groups the stored transcript into paragraphs and, for a non-empty
// query, searches it with the match at cursor marked active. The cursor is
// clamped to the match count.
func (t *Transcripts) Load(ctx context.Context, episodeID int64, query string, cursor int) (*TranscriptView, error) {
	tr, err := t.store.GetTranscript(ctx, episodeID)
	if err != nil {
		return nil, err
	}

	view := &TranscriptView{
		EpisodeID:  episodeID,
		ModelName:  tr.ModelName,
		Paragraphs: transcript.Paragraphs(tr.SegmentsJSON, tr.FullText),
	}

	lang := transcript.ResolveLanguage(tr.Language, tr.FullText)
	if lang != language.Und {
		view.Language = lang.String()
		if tr.Language == "" {
			if err := t.store.SetTranscriptLanguage(ctx, episodeID, view.Language); err != nil {
				log.Warn("Failed to store detected language for episode %d: %v", episodeID, err)
			}
		}
	}

	if query == "" {
		return view, nil
	}
	result := transcript.Search(view.Paragraphs, query)
	var nav transcript.Navigator
	nav.SetQuery(query, result.Total)
	nav.Seek(cursor)

	view.Search = &result
	view.Cursor = nav.Cursor()
	view.Highlights = transcript.HighlightAll(view.Paragraphs, query, nav.Cursor())
	return view, nil
}

// Subtitles builds a caption track from the stored segments. Cues are
// attributed to speakers when the episode has been diarized; name maps a
// speaker label to its display name. A transcript without usable segments
// gets one untimed cue per full-text paragraph and no speakers.
func (t *Transcripts) Subtitles(ctx context.Context, episodeID int64, name func(label string) string) (*subtitle.File, error) {
	tr, err := t.store.GetTranscript(ctx, episodeID)
	if err != nil {
		return nil, err
	}

	var segments []transcript.Segment
	if strings.TrimSpace(tr.SegmentsJSON) != "" {
		segments, err = transcript.ParseSegments(tr.SegmentsJSON)
		if err != nil {
			log.Warn("Exporting episode %d from full text, segments unreadable: %v", episodeID, err)
		}
	}
	if len(segments) == 0 {
		file := subtitle.FromSegments(fullTextSegments(tr.FullText), nil)
		file.Language = tr.Language
		return file, nil
	}

	diarized, err := t.store.ListDiarizationSegments(ctx, episodeID)
	if err != nil {
		log.Warn("Exporting episode %d without speakers: %v", episodeID, err)
	}
	turns := make([]subtitle.Turn, 0, len(diarized))
	for _, seg := range diarized {
		label := seg.EffectiveSpeaker()
		if name != nil {
			label = name(label)
		}
		turns = append(turns, subtitle.Turn{StartMs: seg.StartMs, EndMs: seg.EndMs, Speaker: label})
	}

	file := subtitle.FromSegments(segments, turns)
	file.Language = tr.Language
	return file, nil
}

// fullTextSegments gives each paragraph the span up to the next one; the
// last paragraph lasts one second.
func fullTextSegments(full string) []transcript.Segment {
	paragraphs := transcript.SplitFullText(full)
	segments := make([]transcript.Segment, 0, len(paragraphs))
	for i, p := range paragraphs {
		end := p.StartMs + 1000
		if i+1 < len(paragraphs) {
			end = paragraphs[i+1].StartMs
		}
		segments = append(segments, transcript.Segment{Text: p.Text, StartMs: p.StartMs, EndMs: end})
	}
	return segments
}

// Delete removes the transcript and resets the episode to not_started. It
// asks the runner first; if that fails the coordinator's view decides.
func (t *Transcripts) Delete(ctx context.Context, episodeID int64) error {
	if t.busy(ctx, episodeID) {
		return ErrTranscriptBusy
	}
	if err := t.store.DeleteTranscript(ctx, episodeID); err != nil {
		return fmt.Errorf("delete transcript of episode %d: %w", episodeID, err)
	}
	log.Info("Deleted transcript of episode %d", episodeID)
	return nil
}

func (t *Transcripts) busy(ctx context.Context, episodeID int64) bool {
	if t.runner != nil {
		status, err := t.runner.Status(ctx)
		if err == nil {
			return status.IsProcessing && status.ActiveEntityID != nil && *status.ActiveEntityID == episodeID
		}
		log.Warn("Failed to query transcription status before delete: %v", err)
	}
	if t.coord != nil {
		return t.coord.Snapshot().IsActive(episodeID)
	}
	return false
}
