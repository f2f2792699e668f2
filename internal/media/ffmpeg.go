package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/binky/pkg/file"
	"github.com/MimeLyc/binky/pkg/log"
)

type Ffmpeg struct {
	ffmpegCmd  string
	ffprobeCmd string
}

var _ Converter = Ffmpeg{}

// NewFfmpeg uses ffmpeg and ffprobe from PATH when a binary is empty.
func NewFfmpeg(ffmpegBin, ffprobeBin string) Ffmpeg {
	if strings.TrimSpace(ffmpegBin) == "" {
		ffmpegBin = "ffmpeg"
	}
	if strings.TrimSpace(ffprobeBin) == "" {
		ffprobeBin = "ffprobe"
	}
	return Ffmpeg{
		ffmpegCmd:  ffmpegBin,
		ffprobeCmd: ffprobeBin,
	}
}

// Available reports whether both tools can be found.
func (ff Ffmpeg) Available() bool {
	if _, err := exec.LookPath(ff.ffmpegCmd); err != nil {
		return false
	}
	_, err := exec.LookPath(ff.ffprobeCmd)
	return err == nil
}

func (ff Ffmpeg) Probe(ctx context.Context, path string) (AudioInfo, error) {
	cmdPath, err := exec.LookPath(ff.ffprobeCmd)
	if err != nil {
		return AudioInfo{}, err
	}
	output, err := exec.CommandContext(ctx, cmdPath, ff.probeArgs(path)...).Output()
	if err != nil {
		log.Error("Failed to run ffprobe on %s: %v", path, err)
		return AudioInfo{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseProbe(output)
}

// ToWAV writes a 16 kHz mono PCM copy next to src and returns its path.
// Audio that already has that format is returned as-is, and a converted
// copy newer than src is reused.
func (ff Ffmpeg) ToWAV(ctx context.Context, src string) (string, error) {
	if info, err := ff.Probe(ctx, src); err == nil && info.ReadyForWhisper() {
		return src, nil
	}

	dst := file.ReplaceExt(src, ".wav")
	if dst == src {
		dst = file.ReplaceExt(src, ".16k.wav")
	}
	if fresh(dst, src) {
		log.Debug("Reusing converted audio %s", dst)
		return dst, nil
	}

	cmdPath, err := exec.LookPath(ff.ffmpegCmd)
	if err != nil {
		return "", err
	}
	tmp := dst + ".part.wav"
	defer os.Remove(tmp)

	started := time.Now()
	out, err := exec.CommandContext(ctx, cmdPath, ff.toWAVArgs(src, tmp)...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg %s: %w: %s", src, err, lastLine(string(out)))
	}
	if err := os.Rename(tmp, dst); err != nil {
		return "", fmt.Errorf("store converted audio: %w", err)
	}
	log.Info("Converted %s to 16 kHz mono in %s", src, time.Since(started).Round(time.Millisecond))
	return dst, nil
}

func (Ffmpeg) probeArgs(path string) []string {
	return []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "a:0",
		path,
	}
}

func (Ffmpeg) toWAVArgs(src, dst string) []string {
	return []string{
		"-nostdin",
		"-y",
		"-i", src,
		"-vn",
		"-ar", strconv.Itoa(WhisperSampleRate),
		"-ac", strconv.Itoa(WhisperChannels),
		"-c:a", "pcm_s16le",
		dst,
	}
}

func parseProbe(output []byte) (AudioInfo, error) {
	var probeResult struct {
		Streams []struct {
			CodecType  string `json:"codec_type"`
			CodecName  string `json:"codec_name"`
			SampleRate string `json:"sample_rate"`
			Channels   int    `json:"channels"`
			Duration   string `json:"duration"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(output, &probeResult); err != nil {
		return AudioInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	for _, stream := range probeResult.Streams {
		if stream.CodecType != "audio" {
			continue
		}
		info := AudioInfo{Codec: stream.CodecName, Channels: stream.Channels}
		info.SampleRate, _ = strconv.Atoi(stream.SampleRate)
		if secs, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
			info.Duration = time.Duration(secs * float64(time.Second))
		}
		return info, nil
	}
	return AudioInfo{}, fmt.Errorf("no audio stream found")
}

func fresh(dst, src string) bool {
	d, err := os.Stat(dst)
	if err != nil || d.Size() == 0 {
		return false
	}
	s, err := os.Stat(src)
	if err != nil {
		return false
	}
	return !d.ModTime().Before(s.ModTime())
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
