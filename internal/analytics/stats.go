// Package analytics derives speaking-share statistics from diarization
// segments. Corrected speakers always win over the detected label.
package analytics

import (
	"context"
	"fmt"
	"math"

	"github.com/MimeLyc/binky/internal/persistence"
)

const (
	Host0Label = "SPEAKER_0"
	Host1Label = "SPEAKER_1"
)

type EpisodeStats struct {
	EpisodeID         int64                         `json:"episode_id"`
	Title             string                        `json:"title"`
	PublishDate       string                        `json:"publish_date"`
	AudioURL          string                        `json:"audio_url"`
	DiarizationStatus persistence.DiarizationStatus `json:"diarization_status"`
	Host0Pct          int                           `json:"host0_pct"`
	Host1Pct          int                           `json:"host1_pct"`
	Host0Minutes      float64                       `json:"host0_minutes"`
	Host1Minutes      float64                       `json:"host1_minutes"`
	Host0Turns        int                           `json:"host0_turns"`
	Host1Turns        int                           `json:"host1_turns"`
	TotalSpeakingMs   int64                         `json:"total_speaking_ms"`

	host0Ms int64
}

type AggregateStats struct {
	AvgHost0Pct       int     `json:"avg_host0_pct"`
	AvgHost1Pct       int     `json:"avg_host1_pct"`
	TotalHost0Minutes float64 `json:"total_host0_minutes"`
	TotalHost1Minutes float64 `json:"total_host1_minutes"`
	EpisodeCount      int     `json:"episode_count"`
}

type Report struct {
	Episodes  []EpisodeStats `json:"episodes"`
	Aggregate AggregateStats `json:"aggregate"`
}

// EpisodeStatsFrom folds per-speaker totals into one entry per episode, in
// the order the episodes first appear. Speakers other than the two hosts
// are ignored.
func EpisodeStatsFrom(totals []persistence.SpeakerTotal) []EpisodeStats {
	index := make(map[int64]int)
	out := make([]EpisodeStats, 0)

	for _, t := range totals {
		i, ok := index[t.EpisodeID]
		if !ok {
			i = len(out)
			index[t.EpisodeID] = i
			out = append(out, EpisodeStats{
				EpisodeID:         t.EpisodeID,
				Title:             t.Title,
				PublishDate:       t.PublishDate,
				AudioURL:          t.AudioURL,
				DiarizationStatus: t.DiarizationStatus,
			})
		}
		st := &out[i]
		switch t.Speaker {
		case Host0Label:
			st.host0Ms = t.SpeakingMs
			st.Host0Minutes = minutes(t.SpeakingMs)
			st.Host0Turns = t.Turns
			st.TotalSpeakingMs += t.SpeakingMs
		case Host1Label:
			st.Host1Minutes = minutes(t.SpeakingMs)
			st.Host1Turns = t.Turns
			st.TotalSpeakingMs += t.SpeakingMs
		}
	}

	for i := range out {
		st := &out[i]
		if st.TotalSpeakingMs > 0 {
			st.Host0Pct = int(math.Round(float64(st.host0Ms) / float64(st.TotalSpeakingMs) * 100))
		} else {
			st.Host0Pct = 50
		}
		st.Host1Pct = 100 - st.Host0Pct
	}
	return out
}

// Aggregate averages over fully diarized episodes only; solo episodes
// would skew the split.
func Aggregate(episodes []EpisodeStats) AggregateStats {
	agg := AggregateStats{AvgHost0Pct: 50, AvgHost1Pct: 50}

	var pctSum int
	for _, e := range episodes {
		if e.DiarizationStatus != persistence.DiarizationDone {
			continue
		}
		agg.EpisodeCount++
		pctSum += e.Host0Pct
		agg.TotalHost0Minutes += e.Host0Minutes
		agg.TotalHost1Minutes += e.Host1Minutes
	}
	if agg.EpisodeCount == 0 {
		return agg
	}
	agg.AvgHost0Pct = int(math.Round(float64(pctSum) / float64(agg.EpisodeCount)))
	agg.AvgHost1Pct = 100 - agg.AvgHost0Pct
	agg.TotalHost0Minutes = round1(agg.TotalHost0Minutes)
	agg.TotalHost1Minutes = round1(agg.TotalHost1Minutes)
	return agg
}

// Store is the read side analytics needs.
type Store interface {
	SpeakerTotals(ctx context.Context, statuses ...persistence.DiarizationStatus) ([]persistence.SpeakerTotal, error)
}

// Load builds the report over every done or solo episode.
func Load(ctx context.Context, store Store) (Report, error) {
	totals, err := store.SpeakerTotals(ctx, persistence.DiarizationDone, persistence.DiarizationSolo)
	if err != nil {
		return Report{}, fmt.Errorf("load speaker totals: %w", err)
	}
	episodes := EpisodeStatsFrom(totals)
	return Report{Episodes: episodes, Aggregate: Aggregate(episodes)}, nil
}

func minutes(ms int64) float64 {
	return round1(float64(ms) / 60000)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
