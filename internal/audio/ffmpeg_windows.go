//go:build windows

package audio

import (
	"io"
	"os/exec"
	"strconv"

	"github.com/oszuidwest/zwfm-reporter/internal/util"
)

// buildFFmpegCaptureArgs constructs FFmpeg arguments for audio capture on Windows.
// Note: -nostdin is NOT used on Windows to allow graceful shutdown via 'q' command.
func buildFFmpegCaptureArgs(inputFormat, device string) []string {
	return []string{
		"-f", inputFormat,
		"-i", device,
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "s16le",
		"-ac", strconv.Itoa(Channels),
		"-ar", strconv.Itoa(SampleRate),
		"pipe:1",
	}
}

// stopCaptureProcess requests a graceful FFmpeg shutdown via stdin, the only
// mechanism Windows supports.
func stopCaptureProcess(cmd *exec.Cmd, stdin io.WriteCloser) error {
	return util.StopFFmpegViaStdin(stdin)
}
