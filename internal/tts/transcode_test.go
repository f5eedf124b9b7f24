package tts

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
)

func TestTranscodeArgs(t *testing.T) {
	got := transcodeArgs("/data/tts/tts_abc.ulaw")
	want := []string{
		"-y",
		"-i", "pipe:0",
		"-ar", "8000",
		"-ac", "1",
		"-f", "mulaw",
		"/data/tts/tts_abc.ulaw",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("transcodeArgs = %v, want %v", got, want)
	}
}

func TestTranscodeMissingBinary(t *testing.T) {
	trans := NewFFmpegTranscoder("definitely-not-ffmpeg-xyz", testLogger())

	path := filepath.Join(t.TempDir(), "out.ulaw")
	if _, err := trans.Transcode(context.Background(), []byte("audio"), path); err == nil {
		t.Fatal("Transcode = nil error for missing binary")
	}
}

func TestLastLine(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"multi line", "header\nprogress\nerror: bad input\n", "error: bad input"},
		{"single line", "boom", "boom"},
		{"trailing blanks", "real error\n\n  \n", "real error"},
		{"empty", "", "no output"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lastLine([]byte(tt.in)); got != tt.want {
				t.Errorf("lastLine(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
