//go:build portaudio

package audio

import (
	"context"
	"encoding/binary"

	"github.com/gordonklaus/portaudio"

	"github.com/oszuidwest/zwfm-reporter/internal/util"
)

// PortAudioSource captures from the default input device through the
// PortAudio library instead of an FFmpeg subprocess. Built only with the
// portaudio tag since it needs the native library at link time.
type PortAudioSource struct {
	stream  *portaudio.Stream
	samples []int16
}

func newPortAudioSource() Source {
	return &PortAudioSource{}
}

// Open initializes PortAudio and starts the default input stream.
func (s *PortAudioSource) Open(ctx context.Context) error {
	if err := portaudio.Initialize(); err != nil {
		return util.WrapError("initialize portaudio", err)
	}

	s.samples = make([]int16, FrameBytes/BytesPerSample)
	stream, err := portaudio.OpenDefaultStream(Channels, 0, float64(SampleRate), len(s.samples), s.samples)
	if err != nil {
		portaudio.Terminate()
		return util.WrapError("open portaudio stream", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		portaudio.Terminate()
		return util.WrapError("start portaudio stream", err)
	}

	s.stream = stream
	return nil
}

// ReadFrame reads one buffer of samples and converts them to S16LE bytes.
func (s *PortAudioSource) ReadFrame(buf []byte) (int, error) {
	if err := s.stream.Read(); err != nil {
		return 0, util.WrapError("read portaudio stream", err)
	}

	n := 0
	for _, sample := range s.samples {
		if n+BytesPerSample > len(buf) {
			break
		}
		binary.LittleEndian.PutUint16(buf[n:], uint16(sample))
		n += BytesPerSample
	}
	return n, nil
}

// Close stops the stream and tears PortAudio down.
func (s *PortAudioSource) Close() error {
	if s.stream != nil {
		_ = s.stream.Stop()
		_ = s.stream.Close()
		s.stream = nil
	}
	return portaudio.Terminate()
}
