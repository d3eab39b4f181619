package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func pcm(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestProcessSamplesAccumulates(t *testing.T) {
	buf := pcm(1000, -2000, 3000, -4000)

	var data LevelData
	ProcessSamples(buf, len(buf), &data)

	require.Equal(t, 4, data.SampleCount)
	require.InDelta(t, 4000.0, data.Peak, 0.001)
	require.Zero(t, data.ClipCount)
}

func TestProcessSamplesCountsClips(t *testing.T) {
	buf := pcm(32767, -32767, 32759, -32759)

	var data LevelData
	ProcessSamples(buf, len(buf), &data)

	require.Equal(t, 2, data.ClipCount)
}

func TestProcessSamplesIgnoresTrailingByte(t *testing.T) {
	buf := append(pcm(1000), 0x7f)

	var data LevelData
	ProcessSamples(buf, len(buf), &data)

	require.Equal(t, 1, data.SampleCount)
}

func TestCalculateLevels(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		wantRMS float64
		delta   float64
	}{
		{"silence", []int16{0, 0, 0, 0}, MinDB, 0.001},
		{"full scale", []int16{32767, 32767, 32767, 32767}, 0.0, 0.01},
		{"half scale", []int16{16384, -16384, 16384, -16384}, -6.02, 0.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := pcm(tt.samples...)
			var data LevelData
			ProcessSamples(buf, len(buf), &data)

			levels := CalculateLevels(&data)
			require.InDelta(t, tt.wantRMS, levels.RMS, tt.delta)
		})
	}
}

func TestCalculateLevelsEmpty(t *testing.T) {
	var data LevelData
	levels := CalculateLevels(&data)

	require.Equal(t, MinDB, levels.RMS)
	require.Equal(t, MinDB, levels.Peak)
}

func TestLevelDataReset(t *testing.T) {
	buf := pcm(32767, -32767)
	var data LevelData
	ProcessSamples(buf, len(buf), &data)
	require.NotZero(t, data.SampleCount)

	data.Reset()
	require.Zero(t, data.SampleCount)
	require.Zero(t, data.SumSquares)
	require.Zero(t, data.Peak)
	require.Zero(t, data.ClipCount)
}
