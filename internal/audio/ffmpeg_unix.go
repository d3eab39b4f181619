//go:build !windows

package audio

import (
	"io"
	"os/exec"
	"strconv"

	"github.com/oszuidwest/zwfm-reporter/internal/util"
)

// buildFFmpegCaptureArgs constructs FFmpeg arguments for audio capture.
func buildFFmpegCaptureArgs(inputFormat, device string) []string {
	return []string{
		"-f", inputFormat,
		"-i", device,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "s16le",
		"-ac", strconv.Itoa(Channels),
		"-ar", strconv.Itoa(SampleRate),
		"pipe:1",
	}
}

// stopCaptureProcess requests a graceful FFmpeg shutdown via signal.
func stopCaptureProcess(cmd *exec.Cmd, stdin io.WriteCloser) error {
	return util.GracefulSignal(cmd.Process)
}
