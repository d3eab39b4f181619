//go:build windows

package util

import (
	"io"
	"os"
)

// ShutdownSignals returns the signals to listen for graceful shutdown.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// GracefulSignal attempts graceful process termination.
// On Windows this is a no-op since FFmpeg is shut down via stdin.
func GracefulSignal(p *os.Process) error {
	return nil
}

// StopFFmpegViaStdin sends 'q' to FFmpeg's stdin for graceful shutdown.
// This is the preferred method on Windows where SIGINT is not supported.
func StopFFmpegViaStdin(stdin io.WriteCloser) error {
	if stdin == nil {
		return nil
	}
	_, _ = stdin.Write([]byte("q"))
	return stdin.Close()
}
