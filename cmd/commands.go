package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/binky/internal/jobs"
	"github.com/MimeLyc/binky/internal/persistence"
	"github.com/MimeLyc/binky/internal/service"
	"github.com/MimeLyc/binky/internal/settings"
	"github.com/MimeLyc/binky/internal/subtitle"
	"github.com/MimeLyc/binky/internal/transcript"
	"github.com/MimeLyc/binky/internal/views"
)

func newSyncCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Fetch the feed once and store new episodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.sync.Sync(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Inserted %s new episodes, removed %s duplicates\n",
				humanize.Comma(int64(result.Inserted)), humanize.Comma(result.DuplicatesRemoved))
			return nil
		},
	}
}

func newPruneCommand(opts *rootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete cached episode audio that has not been used recently",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			removed, freed, err := a.downloader.Prune(olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s files, freed %s\n",
				humanize.Comma(int64(removed)), humanize.Bytes(uint64(freed)))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Minimum age of audio files to delete")
	return cmd
}

func newEpisodesCommand(opts *rootOptions) *cobra.Command {
	var query string

	cmd := &cobra.Command{
		Use:   "episodes",
		Short: "List stored episodes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			eps, err := a.library.Episodes(cmd.Context(), query)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderEpisodes(eps, shouldColorize(out)))
			fmt.Fprintf(out, "%s episodes\n", humanize.Comma(int64(len(eps))))
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "search", "s", "", "Only list episodes whose title contains this text")
	return cmd
}

func renderEpisodes(eps []*persistence.Episode, colorize bool) string {
	rows := make([][]string, 0, len(eps))
	for _, ep := range eps {
		number := ""
		if ep.EpisodeNumber != nil {
			number = strconv.Itoa(*ep.EpisodeNumber)
		}
		duration := ""
		if ep.DurationMinutes != nil {
			duration = fmt.Sprintf("%.0f min", *ep.DurationMinutes)
		}
		rows = append(rows, []string{
			strconv.FormatInt(ep.ID, 10),
			number,
			ep.PublishDate,
			ep.Title,
			duration,
			colorStatus(string(ep.TranscriptionStatus), colorize),
			colorStatus(string(ep.DiarizationStatus), colorize),
		})
	}
	return renderTable(
		[]string{"ID", "#", "Date", "Title", "Length", "Transcript", "Speakers"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight},
	)
}

func newTranscriptCommand(opts *rootOptions) *cobra.Command {
	var query string
	var cursor int
	var format string

	cmd := &cobra.Command{
		Use:   "transcript <episode-id>",
		Short: "Print an episode transcript, optionally highlighting search matches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid episode id %q", args[0])
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if format != "" {
				f, err := subtitle.ParseFormat(format)
				if err != nil {
					return err
				}
				hosts := settings.LoadHostProfile(cmd.Context(), a.prefs)
				file, err := a.transcripts.Subtitles(cmd.Context(), id, hosts.SpeakerName)
				if err != nil {
					return err
				}
				return subtitle.Write(cmd.OutOrStdout(), file, f)
			}

			view, err := a.transcripts.Load(cmd.Context(), id, query, cursor)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			writeTranscript(out, view, shouldColorize(out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "search", "s", "", "Highlight matches of this text")
	cmd.Flags().IntVar(&cursor, "match", 0, "Index of the match to mark as current")
	cmd.Flags().StringVar(&format, "format", "", "Export as subtitles instead: srt or vtt")
	return cmd
}

func writeTranscript(w io.Writer, view *service.TranscriptView, colorize bool) {
	if view.Search != nil {
		if view.Search.Total == 0 {
			fmt.Fprintf(w, "No matches for %q\n\n", view.Search.Query)
		} else {
			fmt.Fprintf(w, "Match %d of %d for %q\n\n", view.Cursor+1, view.Search.Total, view.Search.Query)
		}
	}
	for i, p := range view.Paragraphs {
		fmt.Fprintf(w, "[%s] ", formatTimestamp(p.StartMs))
		if i < len(view.Highlights) {
			for _, span := range view.Highlights[i] {
				fmt.Fprint(w, highlightSpan(span, colorize))
			}
		} else {
			fmt.Fprint(w, p.Text)
		}
		fmt.Fprint(w, "\n\n")
	}
}

func highlightSpan(span transcript.Span, colorize bool) string {
	switch {
	case !span.Match:
		return span.Text
	case colorize && span.Active:
		return "\x1b[7m" + span.Text + ansiReset
	case colorize:
		return ansiYellow + span.Text + ansiReset
	case span.Active:
		return ">>" + span.Text + "<<"
	default:
		return "[" + span.Text + "]"
	}
}

func formatTimestamp(ms int64) string {
	total := ms / 1000
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

type syncStatus struct {
	Syncing  bool       `json:"syncing"`
	LastSync *time.Time `json:"last_sync"`
	Schedule string     `json:"schedule"`
	NextRun  *time.Time `json:"next_run"`
}

func newStatusCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the job queues and feed sync of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			base := strings.TrimRight(addr, "/")
			if !strings.Contains(base, "://") {
				base = "http://" + base
			}
			client := &http.Client{Timeout: 5 * time.Second}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, kind := range []jobs.Kind{jobs.KindTranscription, jobs.KindDiarization} {
				var state jobs.State
				if err := getJSON(client, base+"/api/jobs/"+string(kind), &state); err != nil {
					return err
				}
				fmt.Fprintln(out, renderJobStatus(state, colorize))
			}

			var sync syncStatus
			if err := getJSON(client, base+"/api/sync", &sync); err != nil {
				return err
			}
			fmt.Fprintln(out, renderSyncStatus(sync, time.Now()))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7788", "Address of the running server")
	return cmd
}

func renderJobStatus(state jobs.State, colorize bool) string {
	badge := views.QueueBadgeFor(state)
	line := fmt.Sprintf("%-14s idle", string(state.Kind)+":")
	if state.IsProcessing {
		line = fmt.Sprintf("%-14s %s", string(state.Kind)+":", views.BannerFor(state).Text)
		if state.ActiveID != nil {
			line += fmt.Sprintf(" (episode %d, %d%%)", *state.ActiveID, state.Progress)
		}
		if colorize {
			line = ansiYellow + line + ansiReset
		}
	}
	if label := badge.Label(); label != "" && !state.IsProcessing {
		line += " (" + label + " waiting)"
	}
	return line
}

func renderSyncStatus(s syncStatus, now time.Time) string {
	var b strings.Builder
	b.WriteString("feed sync:     ")
	switch {
	case s.Syncing:
		b.WriteString("running")
	case s.LastSync != nil:
		b.WriteString("last " + humanize.RelTime(*s.LastSync, now, "ago", "from now"))
	default:
		b.WriteString("never synced")
	}
	if s.Schedule == "" {
		b.WriteString(", schedule disabled")
	} else if s.NextRun != nil {
		fmt.Fprintf(&b, ", next %s (%s)", humanize.RelTime(*s.NextRun, now, "ago", "from now"), s.Schedule)
	}
	return b.String()
}

func getJSON(client *http.Client, url string, out any) error {
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("is binky serve running? %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("GET %s: %s %s", url, resp.Status, body.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
