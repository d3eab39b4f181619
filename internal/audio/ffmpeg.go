package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/oszuidwest/zwfm-reporter/internal/types"
	"github.com/oszuidwest/zwfm-reporter/internal/util"
)

// ErrFFmpegNotFound is returned when the FFmpeg binary cannot be located.
var ErrFFmpegNotFound = errors.New("ffmpeg not found")

// FFmpegSource captures PCM from an input device through an FFmpeg
// subprocess reading the platform capture backend (alsa, avfoundation,
// dshow). This is the default source on real hardware.
type FFmpegSource struct {
	Device string // device identifier, platform default when empty
	Path   string // ffmpeg binary, resolved from PATH when empty

	cmd      *exec.Cmd
	cancel   context.CancelFunc
	stdin    io.WriteCloser
	stdout   io.ReadCloser
	stderr   *bytes.Buffer
	waitOnce sync.Once
	waitErr  error
}

// Open resolves the device and launches the capture subprocess. The
// subprocess inherits ctx: cancellation triggers a graceful stop, escalated
// to a kill after the shutdown timeout.
func (s *FFmpegSource) Open(ctx context.Context) error {
	device, err := resolveDevice(s.Device)
	if err != nil {
		return err
	}

	path := util.ResolveFFmpegPath(s.Path)
	if path == "" {
		return ErrFFmpegNotFound
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, path, buildFFmpegCaptureArgs(getPlatformConfig().InputFormat, device)...)

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return util.WrapError("create stdin pipe", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return util.WrapError("create stdout pipe", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	cmd.Cancel = func() error {
		return stopCaptureProcess(cmd, stdinPipe)
	}
	cmd.WaitDelay = types.ShutdownTimeout

	if err := cmd.Start(); err != nil {
		cancel()
		return util.WrapError("start ffmpeg", err)
	}

	slog.Info("audio capture started", "command", path, "device", device)

	s.cmd = cmd
	s.cancel = cancel
	s.stdin = stdinPipe
	s.stdout = stdoutPipe
	s.stderr = &stderr
	s.waitOnce = sync.Once{}
	return nil
}

// ReadFrame fills buf from the subprocess output. An exit of the subprocess
// surfaces as an error carrying the last stderr line, so a dead input is
// distinguishable from a clean end of stream.
func (s *FFmpegSource) ReadFrame(buf []byte) (int, error) {
	n, err := io.ReadFull(s.stdout, buf)
	if err == nil {
		return n, nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		waitErr := s.wait()
		detail := util.ExtractLastError(s.stderr.String())
		if detail == "" {
			detail = "no stderr output"
		}
		if waitErr != nil {
			return n, fmt.Errorf("ffmpeg capture exited (%s): %w", detail, waitErr)
		}
		return n, fmt.Errorf("ffmpeg capture exited: %s", detail)
	}
	return n, err
}

// Close stops the subprocess and reaps it. Exit errors are expected here
// and only logged.
func (s *FFmpegSource) Close() error {
	if s.cmd == nil {
		return nil
	}
	s.cancel()
	if err := s.wait(); err != nil {
		slog.Debug("ffmpeg capture exited", "error", err)
	}
	s.cmd = nil
	return nil
}

// wait reaps the subprocess exactly once.
func (s *FFmpegSource) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

// resolveDevice applies the platform default and falls back to the first
// enumerated device.
func resolveDevice(device string) (string, error) {
	cfg := getPlatformConfig()
	if device == "" {
		device = cfg.DefaultDevice
	}
	if device == "" {
		devices := Devices()
		if len(devices) == 0 {
			return "", ErrNoAudioDevice
		}
		device = devices[0].ID
	}
	return device, nil
}
