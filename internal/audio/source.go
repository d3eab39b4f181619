package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-reporter/internal/util"
)

// ErrNoAudioDevice is returned when no audio input device is available.
var ErrNoAudioDevice = errors.New("no audio input device found")

// DefaultToneFrequency is the test tone frequency in Hz.
const DefaultToneFrequency = 440.0

// Source produces raw PCM frames for the capture stage. Open prepares the
// input, ReadFrame fills buf and returns the number of bytes read, io.EOF
// after the input is exhausted. Close releases the input and is safe to call
// after a failed Open.
type Source interface {
	Open(ctx context.Context) error
	ReadFrame(buf []byte) (int, error)
	Close() error
}

// NewSource returns the capture source for the configured input. The
// prefixes "tone:" and "file:" select the synthetic sources used on bench
// rigs, "portaudio" the library capture on builds carrying it; anything
// else is treated as a platform device identifier.
func NewSource(input, ffmpegPath string) Source {
	switch {
	case strings.HasPrefix(input, "tone:"):
		freq, err := strconv.ParseFloat(strings.TrimPrefix(input, "tone:"), 64)
		if err != nil || freq <= 0 {
			freq = DefaultToneFrequency
		}
		return &ToneSource{Frequency: freq, Paced: true}
	case strings.HasPrefix(input, "file:"):
		return &FileSource{Path: strings.TrimPrefix(input, "file:")}
	case input == "portaudio":
		if s := newPortAudioSource(); s != nil {
			return s
		}
		slog.Warn("portaudio support not built in, using ffmpeg capture")
		return &FFmpegSource{Path: ffmpegPath}
	default:
		return &FFmpegSource{Device: input, Path: ffmpegPath}
	}
}

// ToneSource generates an endless S16LE sine tone. Used on bench rigs and
// in tests where no capture hardware exists.
type ToneSource struct {
	Frequency float64 // Hz, DefaultToneFrequency when zero
	Amplitude float64 // 0..1, 0.5 when zero
	Paced     bool    // sleep one frame duration per read to mimic a live input

	phase float64
}

// Open implements Source.
func (s *ToneSource) Open(ctx context.Context) error {
	return nil
}

// ReadFrame fills buf with sine samples.
func (s *ToneSource) ReadFrame(buf []byte) (int, error) {
	if s.Paced {
		time.Sleep(time.Duration(len(buf)/BytesPerSample) * time.Second / SampleRate)
	}

	freq := s.Frequency
	if freq <= 0 {
		freq = DefaultToneFrequency
	}
	amp := s.Amplitude
	if amp <= 0 || amp > 1 {
		amp = 0.5
	}

	step := 2 * math.Pi * freq / SampleRate
	n := len(buf) &^ 1
	for i := 0; i < n; i += 2 {
		sample := int16(amp * (MaxSampleValue - 1) * math.Sin(s.phase))
		binary.LittleEndian.PutUint16(buf[i:], uint16(sample))
		s.phase += step
		if s.phase >= 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
	return n, nil
}

// Close implements Source.
func (s *ToneSource) Close() error {
	s.phase = 0
	return nil
}

// FileSource replays a raw PCM file once, then reports io.EOF.
type FileSource struct {
	Path string

	f *os.File
}

// Open opens the configured file.
func (s *FileSource) Open(ctx context.Context) error {
	f, err := os.Open(s.Path)
	if err != nil {
		return util.WrapError("open audio file", err)
	}
	s.f = f
	return nil
}

// ReadFrame fills buf from the file. A trailing partial frame is returned
// as-is; the following read reports io.EOF.
func (s *FileSource) ReadFrame(buf []byte) (int, error) {
	n, err := io.ReadFull(s.f, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return n, nil
	}
	return n, err
}

// Close closes the file.
func (s *FileSource) Close() error {
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}
