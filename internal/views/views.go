// Package views projects coordinator state onto what each screen shows.
// Every projection is a pure function of jobs.State, so surfaces built from
// the same snapshot cannot disagree.
package views

import (
	"fmt"
	"strconv"

	"github.com/MimeLyc/binky/internal/jobs"
	"github.com/MimeLyc/binky/internal/persistence"
)

// QueueBadge is the sidebar counter next to a job kind.
type QueueBadge struct {
	Visible bool `json:"visible"`
	Pulse   bool `json:"pulse"`
	Count   int  `json:"count"`
}

// NewQueueBadge hides the badge when nothing is active and nothing waits.
func NewQueueBadge(isActive bool, count int) QueueBadge {
	if !isActive && count == 0 {
		return QueueBadge{}
	}
	return QueueBadge{Visible: true, Pulse: isActive, Count: count}
}

func QueueBadgeFor(s jobs.State) QueueBadge {
	return NewQueueBadge(s.IsProcessing, s.QueueLength)
}

// Label is the badge text; an active job with an empty queue shows no number.
func (b QueueBadge) Label() string {
	if !b.Visible || b.Count == 0 {
		return ""
	}
	return strconv.Itoa(b.Count)
}

// RowProgress is the progress bar of one episode row.
type RowProgress struct {
	Show    bool `json:"show"`
	Percent int  `json:"percent"`
}

// RowProgressFor shows the bar whenever the coordinator reports the episode
// as active, whatever the stored status says. The stored status lags the
// event stream.
func RowProgressFor(s jobs.State, episodeID int64) RowProgress {
	if !s.IsActive(episodeID) {
		return RowProgress{}
	}
	return RowProgress{Show: true, Percent: s.Progress}
}

// Banner is the "processing" notice above a job list.
type Banner struct {
	Visible bool   `json:"visible"`
	Queued  int    `json:"queued"`
	Text    string `json:"text"`
}

func BannerFor(s jobs.State) Banner {
	if !s.IsProcessing {
		return Banner{}
	}
	b := Banner{Visible: true, Queued: s.QueueLength, Text: fmt.Sprintf("%s running", s.Kind)}
	if s.QueueLength > 0 {
		b.Text = fmt.Sprintf("%s running, %d queued", s.Kind, s.QueueLength)
	}
	return b
}

// Row is one episode list entry with its live overlays.
type Row struct {
	*persistence.Episode
	Transcription RowProgress `json:"transcription_progress"`
	Diarization   RowProgress `json:"diarization_progress"`
}

func Rows(episodes []*persistence.Episode, transcription, diarization jobs.State) []Row {
	rows := make([]Row, 0, len(episodes))
	for _, ep := range episodes {
		rows = append(rows, Row{
			Episode:       ep,
			Transcription: RowProgressFor(transcription, ep.ID),
			Diarization:   RowProgressFor(diarization, ep.ID),
		})
	}
	return rows
}
