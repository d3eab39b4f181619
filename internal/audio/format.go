// Package audio provides the capture sources, level metering, and silence
// detection for the reporter's input chain.
package audio

// Capture format. The collector assumes these values when the metadata
// headers are absent, so they change together with the wire contract.
const (
	// SampleRate is the capture sample rate in Hz.
	SampleRate = 16000
	// BitsPerSample is the capture bit depth.
	BitsPerSample = 16
	// Channels is the capture channel count (mono).
	Channels = 1
	// BytesPerSample is the byte width of one sample.
	BytesPerSample = BitsPerSample / 8
	// FrameBytes is the size of one capture frame: 100 ms of audio.
	FrameBytes = SampleRate / 10 * Channels * BytesPerSample
	// ByteRate is the capture data rate in bytes per second.
	ByteRate = SampleRate * Channels * BytesPerSample
)

// Duration returns the play time in seconds of sizeBytes of raw PCM in the
// given format.
func Duration(sizeBytes int64, sampleRate, bitsPerSample, channels int) float64 {
	byteRate := sampleRate * channels * bitsPerSample / 8
	if byteRate <= 0 {
		return 0
	}
	return float64(sizeBytes) / float64(byteRate)
}
