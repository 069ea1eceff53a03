package bridge

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
)

// convertToOpusOgg transcodes an audio file into an ogg/opus temporary file
// with ffmpeg. WhatsApp only renders opus-encoded ogg as a playable voice
// note. The caller owns the returned file and removes it after sending.
func convertToOpusOgg(ctx context.Context, inputPath string) (string, error) {
	tmp, err := os.CreateTemp("", "voice-*.ogg")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	outputPath := tmp.Name()
	_ = tmp.Close()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-i", inputPath,
		"-c:a", "libopus",
		"-avoid_negative_ts", "make_zero",
		outputPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(outputPath)
		return "", fmt.Errorf("ffmpeg: %w: %s", err, bytes.TrimSpace(out))
	}
	return outputPath, nil
}
