//go:build !portaudio

package audio

func newPortAudioSource() Source {
	return nil
}
