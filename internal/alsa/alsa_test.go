package alsa

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fakeProc(t *testing.T, cards map[int][]string) string {
	t.Helper()
	root := t.TempDir()
	for card, entries := range cards {
		dir := filepath.Join(root, "card"+itoa(card))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		for _, entry := range entries {
			if err := os.MkdirAll(filepath.Join(dir, entry), 0o755); err != nil {
				t.Fatal(err)
			}
		}
	}
	return root
}

func itoa(n int) string {
	return string(rune('0' + n))
}

func TestHasCaptureDevice(t *testing.T) {
	root := fakeProc(t, map[int][]string{
		0: {"pcm0p"},          // playback only
		1: {"pcm0p", "pcm0c"}, // capture capable
		2: {"pcm0c", "pcm1c"},
	})
	c := NewClientWithRoots(root, nil, testLogger())

	tests := []struct {
		card int
		want bool
	}{
		{0, false},
		{1, true},
		{2, true},
		{7, false}, // absent card
	}
	for _, tt := range tests {
		if got := c.HasCaptureDevice(tt.card); got != tt.want {
			t.Errorf("HasCaptureDevice(%d) = %v, want %v", tt.card, got, tt.want)
		}
	}
}

func TestCardID(t *testing.T) {
	root := fakeProc(t, map[int][]string{1: {}})
	if err := os.WriteFile(filepath.Join(root, "card1", "id"), []byte("MS2109\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := NewClientWithRoots(root, nil, testLogger())

	if got := c.CardID(1); got != "MS2109" {
		t.Errorf("CardID(1) = %q, want MS2109", got)
	}
	if got := c.CardID(5); got != "" {
		t.Errorf("CardID(5) = %q, want empty", got)
	}
}

func TestTestCapture(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var gotArgs []string
		run := func(ctx context.Context, name string, args ...string) error {
			gotArgs = append([]string{name}, args...)
			return nil
		}
		c := NewClientWithRoots(t.TempDir(), run, testLogger())
		if !c.TestCapture(context.Background(), 2) {
			t.Fatal("TestCapture() = false, want true")
		}
		cmd := strings.Join(gotArgs, " ")
		if !strings.Contains(cmd, "plughw:2,0") {
			t.Errorf("arecord args = %q, want plughw:2,0 device", cmd)
		}
		if !strings.Contains(cmd, "-d 1") {
			t.Errorf("arecord args = %q, want one second duration", cmd)
		}
	})

	t.Run("device busy", func(t *testing.T) {
		run := func(ctx context.Context, name string, args ...string) error {
			return errors.New("arecord: main:831: audio open error: Device or resource busy")
		}
		c := NewClientWithRoots(t.TempDir(), run, testLogger())
		if c.TestCapture(context.Background(), 1) {
			t.Fatal("TestCapture() = true, want false for busy device")
		}
	})
}
