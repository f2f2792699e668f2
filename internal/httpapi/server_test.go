package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/binky/internal/config"
	"github.com/MimeLyc/binky/internal/feed"
	"github.com/MimeLyc/binky/internal/jobs"
	"github.com/MimeLyc/binky/internal/persistence"
	"github.com/MimeLyc/binky/internal/service"
	"github.com/MimeLyc/binky/internal/settings"
)

type fakeSettingsStore struct {
	current   config.RuntimeSettings
	updateErr error
}

func (f *fakeSettingsStore) GetRuntimeSettings() (config.RuntimeSettings, error) {
	return f.current, nil
}

func (f *fakeSettingsStore) UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error) {
	if f.updateErr != nil {
		return config.RuntimeSettings{}, f.updateErr
	}
	f.current = next
	return f.current, nil
}

// scriptRunner emits its events synchronously from Start.
type scriptRunner struct {
	startErr  error
	cancelErr error
	status    jobs.QueueStatus
	events    []jobs.Event
}

func (r *scriptRunner) Start(_ context.Context, _ int64, _ string, sink jobs.EventSink) error {
	if r.startErr != nil {
		return r.startErr
	}
	for _, ev := range r.events {
		sink(ev)
	}
	return nil
}

func (r *scriptRunner) Cancel(context.Context) error { return r.cancelErr }

func (r *scriptRunner) Status(context.Context) (jobs.QueueStatus, error) {
	return r.status, nil
}

type staticFetcher struct {
	records []persistence.EpisodeMetadata
}

func (f staticFetcher) Fetch(context.Context) ([]persistence.EpisodeMetadata, error) {
	return f.records, nil
}

type testEnv struct {
	store  *persistence.SQLiteStore
	lib    *service.Library
	trans  *jobs.Coordinator
	diar   *jobs.Coordinator
	runner *scriptRunner
	server *Server
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	store, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "binky.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	env := &testEnv{store: store, runner: &scriptRunner{}}
	env.lib = service.NewLibrary(store, "")
	env.trans = jobs.NewCoordinator(jobs.KindTranscription, env.runner, jobs.WithOnEntityUpdated(env.lib.EntityUpdated))
	env.diar = jobs.NewCoordinator(jobs.KindDiarization, &scriptRunner{})

	base := []Option{
		WithStore(store),
		WithPreferences(settings.NewRepository(store)),
	}
	env.server = NewServer(env.lib, service.NewTranscripts(store, env.runner, env.trans), env.trans, env.diar, append(base, opts...)...)
	return env
}

func (e *testEnv) seed(t *testing.T, title, date string) int64 {
	t.Helper()
	id, err := e.store.InsertEpisode(context.Background(), "Nettgefluster", persistence.EpisodeMetadata{
		Title: title, PublishDate: date, AudioURL: "https://cdn.example/" + date + ".mp3",
	})
	require.NoError(t, err)
	return id
}

func (e *testEnv) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_ListEpisodes(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "Folge 1: Urlaub", "2024-01-05")
	env.seed(t, "Folge 2: Kinder", "2024-02-05")

	rec := env.do(t, http.MethodGet, "/api/episodes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "Folge 2: Kinder", rows[0]["title"])
	assert.Equal(t, map[string]any{"show": false, "percent": float64(0)}, rows[0]["transcription_progress"])

	rec = env.do(t, http.MethodGet, "/api/episodes?q=urlaub", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "Folge 1: Urlaub", rows[0]["title"])
}

func TestServer_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/episodes", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Body.String(), "method not allowed")
}

func TestServer_TranscriptLifecycle(t *testing.T) {
	env := newTestEnv(t)
	id := env.seed(t, "Folge 1", "2024-01-05")

	rec := env.do(t, http.MethodGet, "/api/episodes/"+itoa(id)+"/transcript", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	_, err := env.store.SaveTranscript(context.Background(), persistence.Transcript{
		EpisodeID:    id,
		FullText:     "Foo bar foo",
		SegmentsJSON: `[{"text":"Foo bar","start_ms":0,"end_ms":1000},{"text":"foo","start_ms":1500,"end_ms":2000}]`,
		ModelName:    "small",
		Language:     "en",
	})
	require.NoError(t, err)

	rec = env.do(t, http.MethodGet, "/api/episodes/"+itoa(id)+"/transcript?q=foo&cursor=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view service.TranscriptView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "small", view.ModelName)
	require.NotNil(t, view.Search)
	assert.Equal(t, 2, view.Search.Total)
	assert.Equal(t, 1, view.Cursor)

	rec = env.do(t, http.MethodGet, "/api/episodes/"+itoa(id)+"/transcript?cursor=x", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/episodes/"+itoa(id)+"/transcript", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/episodes/"+itoa(id)+"/transcript", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ExportTranscript(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.seed(t, "Folge 1", "2024-01-05")

	rec := env.do(t, http.MethodGet, "/api/episodes/"+itoa(id)+"/transcript.srt", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	_, err := env.store.SaveTranscript(ctx, persistence.Transcript{
		EpisodeID:    id,
		FullText:     "Hallo",
		SegmentsJSON: `[{"text":"Hallo","start_ms":0,"end_ms":1000}]`,
		Language:     "de",
	})
	require.NoError(t, err)
	require.NoError(t, env.store.ReplaceDiarizationSegments(ctx, id, []persistence.DiarizationSegment{
		{StartMs: 0, EndMs: 1000, SpeakerLabel: "SPEAKER_0"},
	}))

	rec = env.do(t, http.MethodGet, "/api/episodes/"+itoa(id)+"/transcript.srt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "subrip")
	assert.Equal(t, "1\n00:00:00,000 --> 00:00:01,000\n"+settings.DefaultHost0Name+": Hallo\n\n", rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/episodes/"+itoa(id)+"/transcript.vtt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "episode-"+itoa(id)+".vtt")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "WEBVTT\nLanguage: de\n"))

	rec = env.do(t, http.MethodGet, "/api/episodes/"+itoa(id)+"/transcript.ass", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ExportTranscriptWithoutSegments(t *testing.T) {
	env := newTestEnv(t)
	id := env.seed(t, "Folge 1", "2024-01-05")
	_, err := env.store.SaveTranscript(context.Background(), persistence.Transcript{
		EpisodeID: id,
		FullText:  "Hallo Welt\n\nZweiter Absatz",
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/episodes/"+itoa(id)+"/transcript.srt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1\n00:00:00,000 --> 00:00:01,000\nHallo Welt\n\n"+
		"2\n00:00:01,000 --> 00:00:02,000\nZweiter Absatz\n\n", rec.Body.String())
}

func TestServer_StartJobWaitsForTerminalEvent(t *testing.T) {
	env := newTestEnv(t)
	id := env.seed(t, "Folge 1", "2024-01-05")
	env.runner.events = []jobs.Event{jobs.Progress(40), jobs.Done(id)}

	updates, stop := env.lib.Subscribe()
	defer stop()

	body := `{"id":` + itoa(id) + `,"audio_url":"https://cdn.example/1.mp3"}`
	rec := env.do(t, http.MethodPost, "/api/jobs/transcription?wait=true", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		State jobs.State `json:"state"`
		Event jobs.Event `json:"event"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, jobs.EventDone, resp.Event.Type)
	assert.False(t, resp.State.IsProcessing)
	assert.Nil(t, resp.State.ActiveID)

	select {
	case got := <-updates:
		assert.Equal(t, id, got)
	case <-time.After(time.Second):
		t.Fatal("library was not notified")
	}
}

func TestServer_StartJobRejected(t *testing.T) {
	env := newTestEnv(t)
	id := env.seed(t, "Folge 1", "2024-01-05")
	env.runner.startErr = errors.New("no whisper model installed")

	rec := env.do(t, http.MethodPost, "/api/jobs/transcription?wait=true", `{"id":`+itoa(id)+`}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "no whisper model")
	assert.False(t, env.trans.Snapshot().IsProcessing)
}

func TestServer_StartJobValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/jobs/transcription", `{"audio_url":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/jobs/summaries", `{"id":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/jobs/diarization/batch", `[]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_StartJobInBackground(t *testing.T) {
	env := newTestEnv(t)
	id := env.seed(t, "Folge 1", "2024-01-05")
	env.runner.events = []jobs.Event{jobs.Done(id)}
	updates, stop := env.lib.Subscribe()
	defer stop()

	rec := env.do(t, http.MethodPost, "/api/jobs/transcription", `{"id":`+itoa(id)+`}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case got := <-updates:
		assert.Equal(t, id, got)
	case <-time.After(time.Second):
		t.Fatal("background job never finished")
	}
}

func TestServer_JobStateCancelRefresh(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/jobs/diarization", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var state jobs.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, jobs.KindDiarization, state.Kind)

	rec = env.do(t, http.MethodPost, "/api/jobs/diarization/cancel", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/jobs/diarization/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_CancelWithUnreachableRunner(t *testing.T) {
	env := newTestEnv(t)
	active := int64(3)
	env.runner.status = jobs.QueueStatus{ActiveEntityID: &active, IsProcessing: true}
	env.runner.cancelErr = errors.New("connection refused")

	rec := env.do(t, http.MethodPost, "/api/jobs/transcription/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/jobs/transcription/cancel", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var state jobs.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.True(t, state.IsActive(3))
}

func TestServer_SegmentsCorrectionAndAnalytics(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.seed(t, "Folge 1", "2024-01-05")
	require.NoError(t, env.store.ReplaceDiarizationSegments(ctx, id, []persistence.DiarizationSegment{
		{StartMs: 0, EndMs: 60000, SpeakerLabel: "SPEAKER_0"},
		{StartMs: 60000, EndMs: 80000, SpeakerLabel: "SPEAKER_1"},
	}))
	require.NoError(t, env.store.SetDiarizationStatus(ctx, id, persistence.DiarizationDone, ""))

	rec := env.do(t, http.MethodGet, "/api/episodes/"+itoa(id)+"/segments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var segs []persistence.DiarizationSegment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &segs))
	require.Len(t, segs, 2)

	rec = env.do(t, http.MethodPut, "/api/segments/"+itoa(segs[1].ID), `{"speaker":"SPEAKER_7"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPut, "/api/segments/"+itoa(segs[1].ID), `{"speaker":"SPEAKER_0"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPut, "/api/segments/999999", `{"speaker":"SPEAKER_0"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/analytics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report struct {
		Episodes []struct {
			Host0Pct int `json:"host0_pct"`
		} `json:"episodes"`
		Aggregate struct {
			EpisodeCount int `json:"episode_count"`
		} `json:"aggregate"`
		Hosts settings.HostProfile `json:"hosts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Episodes, 1)
	assert.Equal(t, 100, report.Episodes[0].Host0Pct)
	assert.Equal(t, 1, report.Aggregate.EpisodeCount)
	assert.Equal(t, settings.DefaultHost0Name, report.Hosts.Host0Name)

	rec = env.do(t, http.MethodPost, "/api/episodes/"+itoa(id)+"/flip-speakers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/analytics", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 0, report.Episodes[0].Host0Pct)
}

func TestServer_Sync(t *testing.T) {
	store, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	rec := feed.NewReconciler(staticFetcher{records: []persistence.EpisodeMetadata{
		{Title: "Folge 1", PublishDate: "2024-01-05"},
		{Title: "Folge 2", PublishDate: "2024-01-12"},
	}}, store, "Nettgefluster")

	env := newTestEnv(t, WithFeed(rec, nil))

	resp := env.do(t, http.MethodPost, "/api/sync", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var result persistence.ReconcileResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Inserted)

	resp = env.do(t, http.MethodGet, "/api/sync", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var status syncStatusResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &status))
	assert.False(t, status.Syncing)
	assert.NotNil(t, status.LastSync)
}

func TestServer_SyncNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/sync", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestServer_Settings(t *testing.T) {
	store := &fakeSettingsStore{current: config.RuntimeSettings{
		FeedURL: "https://feed.example/rss", SyncCron: "0 */6 * * *", PollIntervalSeconds: 3, StallTimeoutSeconds: 1800,
	}}
	var applied []config.RuntimeSettings
	env := newTestEnv(t,
		WithRuntimeSettingsStore(store),
		WithRuntimeSettingsApplier(func(next config.RuntimeSettings) error {
			applied = append(applied, next)
			return nil
		}),
	)

	rec := env.do(t, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://feed.example/rss")

	rec = env.do(t, http.MethodPut, "/api/settings", `{"feed_url":"","poll_interval_seconds":3,"stall_timeout_seconds":10}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, applied)

	rec = env.do(t, http.MethodPut, "/api/settings",
		`{"feed_url":"https://other.example/rss","sync_cron":"*/10 * * * *","poll_interval_seconds":5,"stall_timeout_seconds":60}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, applied, 1)
	assert.Equal(t, "*/10 * * * *", applied[0].SyncCron)
	assert.Equal(t, "https://other.example/rss", store.current.FeedURL)

	store.updateErr = errors.New("disk full")
	rec = env.do(t, http.MethodPut, "/api/settings",
		`{"feed_url":"https://other.example/rss","poll_interval_seconds":5,"stall_timeout_seconds":60}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Len(t, applied, 1)
}

func TestServer_HostsAndOnboarding(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/onboarding", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"first_launch":true}`, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/api/hosts", `{"host0_name":"Felix","host1_name":"Nina","host0_color":"red","host1_color":"#000000"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/hosts", `{"host0_name":"Felix","host1_name":"Nina","host0_color":"#112233","host1_color":"#445566"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var hosts settings.HostProfile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hosts))
	assert.Equal(t, "Felix", hosts.Host0Name)
	assert.True(t, hosts.Confirmed)

	rec = env.do(t, http.MethodPost, "/api/onboarding", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/onboarding", "")
	assert.JSONEq(t, `{"first_launch":false}`, rec.Body.String())
}

func TestServer_JobStreamPushesBoards(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/jobs/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	msg := readEvent(t, reader)
	assert.Equal(t, "board", msg.Type)
	require.NotNil(t, msg.Board)
	assert.False(t, msg.Board.Transcription.IsProcessing)

	env.lib.EntityUpdated(42)
	for {
		msg = readEvent(t, reader)
		if msg.Type == "episode" {
			break
		}
	}
	require.NotNil(t, msg.EpisodeID)
	assert.Equal(t, int64(42), *msg.EpisodeID)
}

func TestServer_JobSocketPushesBoards(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/jobs/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg streamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "board", msg.Type)
	require.NotNil(t, msg.Board)
	assert.Equal(t, jobs.KindDiarization, msg.Board.Diarization.Kind)
}

func readEvent(t *testing.T, r *bufio.Reader) streamMessage {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var msg streamMessage
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg))
		return msg
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
