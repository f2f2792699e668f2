package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/MimeLyc/binky/pkg/file"
	"github.com/MimeLyc/binky/pkg/log"
)

// Downloader fetches episode audio into a cache directory. A file that is
// already cached is returned without a request.
type Downloader struct {
	dir    string
	client *http.Client
}

func NewDownloader(dir string, client *http.Client) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Minute}
	}
	return &Downloader{dir: dir, client: client}
}

// Path is the cache location for an episode's audio.
func (d *Downloader) Path(episodeID int64, audioURL string) string {
	return filepath.Join(d.dir, fmt.Sprintf("episode-%d%s", episodeID, audioExt(audioURL)))
}

// Prune deletes cached audio untouched for longer than maxAge and returns
// how many files and bytes it freed.
func (d *Downloader) Prune(maxAge time.Duration) (int, int64, error) {
	stale, err := file.FindOlderThan(d.dir, time.Now().Add(-maxAge))
	if err != nil {
		return 0, 0, fmt.Errorf("scan audio cache: %w", err)
	}
	var removed int
	var freed int64
	for _, path := range stale {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			log.Warn("Failed to remove cached audio %s: %v", path, err)
			continue
		}
		removed++
		freed += info.Size()
	}
	if removed > 0 {
		log.Info("Pruned %d cached audio files (%s)", removed, humanize.Bytes(uint64(freed)))
	}
	return removed, freed, nil
}

// Fetch downloads audioURL and reports progress in percent. Progress is only
// reported when the server sends a Content-Length.
func (d *Downloader) Fetch(ctx context.Context, episodeID int64, audioURL string, onProgress func(percent int)) (string, error) {
	if strings.TrimSpace(audioURL) == "" {
		return "", fmt.Errorf("episode %d has no audio url", episodeID)
	}
	dest := d.Path(episodeID, audioURL)
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		log.Debug("Using cached audio %s", dest)
		report(onProgress, 100)
		return dest, nil
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download audio: server returned %s", resp.Status)
	}

	tmp, err := os.CreateTemp(d.dir, filepath.Base(dest)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	pw := &progressWriter{total: resp.ContentLength, onProgress: onProgress, last: -1}
	written, err := io.Copy(io.MultiWriter(tmp, pw), resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", fmt.Errorf("move audio into place: %w", err)
	}
	report(onProgress, 100)

	log.Info("Downloaded %s for episode %d", humanize.Bytes(uint64(written)), episodeID)
	return dest, nil
}

type progressWriter struct {
	total      int64
	written    int64
	last       int
	onProgress func(int)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.total > 0 {
		pct := int(w.written * 100 / w.total)
		if pct > 100 {
			pct = 100
		}
		if pct != w.last {
			w.last = pct
			report(w.onProgress, pct)
		}
	}
	return len(p), nil
}

func report(fn func(int), percent int) {
	if fn != nil {
		fn(percent)
	}
}

func audioExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".mp3"
	}
	ext := strings.ToLower(path.Ext(u.Path))
	switch ext {
	case ".mp3", ".m4a", ".aac", ".ogg", ".opus", ".wav", ".flac":
		return ext
	default:
		return ".mp3"
	}
}
