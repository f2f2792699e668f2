package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/language"

	"github.com/MimeLyc/binky/internal/jobs"
	"github.com/MimeLyc/binky/internal/persistence"
	"github.com/MimeLyc/binky/internal/transcript"
	"github.com/MimeLyc/binky/internal/worker"
	"github.com/MimeLyc/binky/pkg/log"
)

// ErrNoWhisperModel refuses transcription jobs while no model is configured.
var ErrNoWhisperModel = errors.New("no whisper model installed")

type TranscriptStore interface {
	SetTranscriptionStatus(ctx context.Context, id int64, status persistence.TranscriptionStatus, message string) error
	SaveTranscript(ctx context.Context, t persistence.Transcript) (int64, error)
}

// Whisper transcribes episodes with the whisper.cpp command line tool.
// Download takes the first half of the progress range, inference the rest.
type Whisper struct {
	bin        string
	model      string
	downloader *Downloader
	store      TranscriptStore
	runner     commandRunner
	workDir    string
	convert    AudioConverter
}

// AudioConverter rewrites downloaded audio into a format whisper.cpp reads
// and returns the new path.
type AudioConverter func(ctx context.Context, path string) (string, error)

func NewWhisper(bin, model string, downloader *Downloader, store TranscriptStore) *Whisper {
	return &Whisper{
		bin:        bin,
		model:      model,
		downloader: downloader,
		store:      store,
		runner:     execRunner{},
	}
}

// SetAudioConverter makes Execute convert audio after the download.
func (w *Whisper) SetAudioConverter(convert AudioConverter) {
	w.convert = convert
}

// Precheck reports ErrNoWhisperModel when the model file is missing.
func (w *Whisper) Precheck() error {
	if strings.TrimSpace(w.model) == "" {
		return ErrNoWhisperModel
	}
	info, err := os.Stat(w.model)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrNoWhisperModel, w.model)
	}
	return nil
}

// ModelName strips the ggml- prefix and extension: ggml-small.bin is "small".
func (w *Whisper) ModelName() string {
	name := filepath.Base(w.model)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return strings.TrimPrefix(name, "ggml-")
}

// Execute is the worker.Executor for transcription jobs.
func (w *Whisper) Execute(ctx context.Context, job *worker.Job, emit jobs.EventSink) error {
	id := job.EntityID
	w.setStatus(ctx, id, persistence.TranscriptionDownloading)
	emit(jobs.Downloading(0))

	audio, err := w.downloader.Fetch(ctx, id, job.Resource, func(p int) {
		emit(jobs.Downloading(scale(p, 0, 50)))
	})
	if err != nil {
		return &PipelineError{Stage: "downloading", Message: "audio download failed", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if w.convert != nil {
		converted, err := w.convert(ctx, audio)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &PipelineError{Stage: "converting", Message: "audio conversion failed", Err: err}
		}
		audio = converted
	}

	w.setStatus(ctx, id, persistence.TranscriptionTranscribing)
	emit(jobs.Progress(50))

	workDir := w.workDir
	if workDir == "" {
		dir, err := os.MkdirTemp("", "binky-whisper-*")
		if err != nil {
			return &PipelineError{Stage: "transcribing", Message: "failed to create temporary workspace", Err: err}
		}
		defer os.RemoveAll(dir)
		workDir = dir
	}
	outBase := filepath.Join(workDir, fmt.Sprintf("episode-%d", id))
	args := buildWhisperArgs(w.model, audio, outBase)

	res, runErr := w.runner.Run(ctx, w.bin, args, func(line string) {
		if p, ok := parseProgress(line); ok {
			emit(jobs.Progress(scale(p, 50, 99)))
		}
	})
	cmdLog := CommandLog{Command: w.bin, Args: args, ExitCode: res.ExitCode, Stderr: res.Stderr}
	if runErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &PipelineError{Stage: "transcribing", Message: "whisper.cpp transcription failed", CommandLog: cmdLog, Err: runErr}
	}

	raw, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return &PipelineError{Stage: "exporting", Message: "whisper.cpp completed but the json output is missing", CommandLog: cmdLog, Err: err}
	}
	out, err := parseWhisperJSON(raw)
	if err != nil {
		return &PipelineError{Stage: "exporting", Message: "invalid whisper.cpp json output", CommandLog: cmdLog, Err: err}
	}
	for _, seg := range out.Segments {
		emit(jobs.Segment(seg.Text, seg.StartMs, seg.EndMs))
	}

	segmentsJSON, err := json.Marshal(out.Segments)
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}
	fullText := joinParagraphs(transcript.GroupIntoParagraphs(out.Segments))

	lang := transcript.ResolveLanguage(out.Language, fullText)
	t := persistence.Transcript{
		EpisodeID:    id,
		FullText:     fullText,
		SegmentsJSON: string(segmentsJSON),
		ModelName:    w.ModelName(),
	}
	if lang != language.Und {
		t.Language = lang.String()
	}
	if _, err := w.store.SaveTranscript(ctx, t); err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	w.setStatus(ctx, id, persistence.TranscriptionDone)
	emit(jobs.Progress(100))

	log.Info("Transcribed episode %d: %d segments, language %q", id, len(out.Segments), t.Language)
	return nil
}

func (w *Whisper) setStatus(ctx context.Context, id int64, status persistence.TranscriptionStatus) {
	if err := w.store.SetTranscriptionStatus(ctx, id, status, ""); err != nil {
		log.Warn("Failed to set transcription status %s for episode %d: %v", status, id, err)
	}
}

// buildWhisperArgs builds whisper.cpp args for json export with progress
// output on stderr.
func buildWhisperArgs(modelPath, audioPath, outBase string) []string {
	return []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-oj",
		"-pp",
		"-l", "auto",
	}
}

type whisperOutput struct {
	Language string
	Segments []transcript.Segment
}

type whisperJSON struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func parseWhisperJSON(raw []byte) (whisperOutput, error) {
	var doc whisperJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return whisperOutput{}, err
	}
	out := whisperOutput{Language: doc.Result.Language}
	for _, item := range doc.Transcription {
		text := strings.TrimSpace(item.Text)
		if text == "" {
			continue
		}
		out.Segments = append(out.Segments, transcript.Segment{
			Text:    text,
			StartMs: item.Offsets.From,
			EndMs:   item.Offsets.To,
		})
	}
	return out, nil
}

func joinParagraphs(paragraphs []transcript.Paragraph) string {
	texts := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		texts = append(texts, p.Text)
	}
	return strings.Join(texts, "\n\n")
}
