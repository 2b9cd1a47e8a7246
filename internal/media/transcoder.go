package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"wagateway/internal/constants"
)

// Transcoder rewrites audio into the format forwarded to webhooks.
type Transcoder interface {
	Transcode(ctx context.Context, input []byte) ([]byte, error)
	Mimetype() string
}

// FFmpeg pipes audio through an ffmpeg process, producing MP3.
type FFmpeg struct {
	Path    string
	Bitrate string
}

func NewFFmpeg(path, bitrate string) *FFmpeg {
	if path == "" {
		path = constants.DefaultFFmpegPath
	}
	if bitrate == "" {
		bitrate = constants.DefaultAudioBitrate
	}
	return &FFmpeg{Path: path, Bitrate: bitrate}
}

func (f *FFmpeg) Transcode(ctx context.Context, input []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, f.Path,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-vn", "-f", "mp3", "-b:a", f.Bitrate,
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func (f *FFmpeg) Mimetype() string {
	return constants.DefaultAudioMimetype
}
