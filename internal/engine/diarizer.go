package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/MimeLyc/binky/internal/jobs"
	"github.com/MimeLyc/binky/internal/persistence"
	"github.com/MimeLyc/binky/internal/worker"
	"github.com/MimeLyc/binky/pkg/log"
)

// ErrNoDiarizationModel refuses diarization jobs while the model directory
// is missing.
var ErrNoDiarizationModel = errors.New("no diarization model installed")

type DiarizationStore interface {
	SetDiarizationStatus(ctx context.Context, id int64, status persistence.DiarizationStatus, message string) error
	ReplaceDiarizationSegments(ctx context.Context, episodeID int64, segs []persistence.DiarizationSegment) error
}

// Diarizer runs the speaker diarization tool. The tool prints
// {"segments":[{"start_ms","end_ms","speaker","confidence"}]} on stdout and
// "progress = N%" lines on stderr.
type Diarizer struct {
	bin        string
	modelDir   string
	downloader *Downloader
	store      DiarizationStore
	runner     commandRunner
}

func NewDiarizer(bin, modelDir string, downloader *Downloader, store DiarizationStore) *Diarizer {
	return &Diarizer{
		bin:        bin,
		modelDir:   modelDir,
		downloader: downloader,
		store:      store,
		runner:     execRunner{},
	}
}

func (d *Diarizer) Precheck() error {
	if strings.TrimSpace(d.modelDir) == "" {
		return ErrNoDiarizationModel
	}
	info, err := os.Stat(d.modelDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNoDiarizationModel, d.modelDir)
	}
	return nil
}

// Execute is the worker.Executor for diarization jobs.
func (d *Diarizer) Execute(ctx context.Context, job *worker.Job, emit jobs.EventSink) error {
	id := job.EntityID
	d.setStatus(ctx, id, persistence.DiarizationProcessing)
	emit(jobs.Downloading(0))

	audio, err := d.downloader.Fetch(ctx, id, job.Resource, func(p int) {
		emit(jobs.Downloading(scale(p, 0, 50)))
	})
	if err != nil {
		return &PipelineError{Stage: "downloading", Message: "audio download failed", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	emit(jobs.Progress(50))

	args := []string{"--model-dir", d.modelDir, "--audio", audio, "--json"}
	res, runErr := d.runner.Run(ctx, d.bin, args, func(line string) {
		if p, ok := parseProgress(line); ok {
			emit(jobs.Progress(scale(p, 50, 99)))
		}
	})
	cmdLog := CommandLog{Command: d.bin, Args: args, ExitCode: res.ExitCode, Stderr: res.Stderr}
	if runErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &PipelineError{Stage: "diarizing", Message: "diarization failed", CommandLog: cmdLog, Err: runErr}
	}

	segs, err := parseDiarizationJSON([]byte(res.Stdout))
	if err != nil {
		return &PipelineError{Stage: "exporting", Message: "invalid diarization output", CommandLog: cmdLog, Err: err}
	}
	if err := d.store.ReplaceDiarizationSegments(ctx, id, segs); err != nil {
		return fmt.Errorf("save diarization segments: %w", err)
	}

	status := persistence.DiarizationDone
	if speakerCount(segs) <= 1 {
		status = persistence.DiarizationSolo
	}
	d.setStatus(ctx, id, status)
	emit(jobs.Progress(100))

	log.Info("Diarized episode %d: %d segments, %d speakers", id, len(segs), speakerCount(segs))
	return nil
}

func (d *Diarizer) setStatus(ctx context.Context, id int64, status persistence.DiarizationStatus) {
	if err := d.store.SetDiarizationStatus(ctx, id, status, ""); err != nil {
		log.Warn("Failed to set diarization status %s for episode %d: %v", status, id, err)
	}
}

type diarizationJSON struct {
	Segments []struct {
		StartMs    int64    `json:"start_ms"`
		EndMs      int64    `json:"end_ms"`
		Speaker    string   `json:"speaker"`
		Confidence *float64 `json:"confidence"`
	} `json:"segments"`
}

func parseDiarizationJSON(raw []byte) ([]persistence.DiarizationSegment, error) {
	var doc diarizationJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	segs := make([]persistence.DiarizationSegment, 0, len(doc.Segments))
	for _, s := range doc.Segments {
		if s.EndMs <= s.StartMs || strings.TrimSpace(s.Speaker) == "" {
			continue
		}
		segs = append(segs, persistence.DiarizationSegment{
			StartMs:      s.StartMs,
			EndMs:        s.EndMs,
			SpeakerLabel: strings.TrimSpace(s.Speaker),
			Confidence:   s.Confidence,
		})
	}
	return segs, nil
}

func speakerCount(segs []persistence.DiarizationSegment) int {
	seen := make(map[string]struct{})
	for _, s := range segs {
		seen[s.SpeakerLabel] = struct{}{}
	}
	return len(seen)
}
