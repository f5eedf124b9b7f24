package tts

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

// Telephony target format: G.711 u-law, 8 kHz, mono.
const (
	targetSampleRate = "8000"
	targetChannels   = "1"
	targetFormat     = "mulaw"
)

// FFmpegTranscoder converts synthesized audio to the telephony codec by
// invoking ffmpeg. The input is piped on stdin so no intermediate file is
// written.
type FFmpegTranscoder struct {
	binary string
	logger *slog.Logger
}

// NewFFmpegTranscoder creates a transcoder using the given ffmpeg binary
// (bare names are resolved on PATH by exec).
func NewFFmpegTranscoder(binary string, logger *slog.Logger) *FFmpegTranscoder {
	return &FFmpegTranscoder{
		binary: binary,
		logger: logger.With("subsystem", "transcoder"),
	}
}

// transcodeArgs builds the ffmpeg argument list for converting stdin audio
// into a u-law file at path.
func transcodeArgs(path string) []string {
	return []string{
		"-y",
		"-i", "pipe:0",
		"-ar", targetSampleRate,
		"-ac", targetChannels,
		"-f", targetFormat,
		path,
	}
}

// Transcode writes the converted audio to path and returns the output size.
// A failed run leaves no partial output behind.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, audio []byte, path string) (int64, error) {
	cmd := exec.CommandContext(ctx, t.binary, transcodeArgs(path)...)
	cmd.Stdin = bytes.NewReader(audio)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("ffmpeg: %w: %s", err, lastLine(stderr.Bytes()))
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("statting transcoded file: %w", err)
	}

	t.logger.Debug("transcoded audio",
		"path", path, "in_bytes", len(audio), "out_bytes", info.Size())
	return info.Size(), nil
}

// lastLine extracts the final non-empty line of ffmpeg's stderr, which
// carries the actual failure reason.
func lastLine(out []byte) string {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if line := bytes.TrimSpace(lines[i]); len(line) > 0 {
			return string(line)
		}
	}
	return "no output"
}
