package audio

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"

	"github.com/oszuidwest/zwfm-reporter/internal/util"
)

// ErrAmixerNotFound is returned when the amixer binary cannot be located.
var ErrAmixerNotFound = errors.New("amixer not found")

// Gain applies the capture volume to the hardware mixer.
type Gain interface {
	Set(percent int) error
}

// AmixerGain sets an ALSA mixer control through the amixer command.
type AmixerGain struct {
	Card    string // ALSA card index or name, empty for the default card
	Control string // mixer control name, "Capture" when empty
}

// Set applies percent to the mixer control.
func (g *AmixerGain) Set(percent int) error {
	path := util.ResolveBinary("amixer")
	if path == "" {
		return ErrAmixerNotFound
	}

	control := cmp.Or(g.Control, "Capture")
	args := make([]string, 0, 5)
	if g.Card != "" {
		args = append(args, "-c", g.Card)
	}
	args = append(args, "sset", control, strconv.Itoa(percent)+"%")

	output, err := exec.Command(path, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("amixer sset %s: %w (%s)", control, err, util.ExtractLastError(string(output)))
	}

	slog.Debug("mixer volume applied", "control", control, "percent", percent)
	return nil
}
