package audio

import (
	"encoding/binary"
	"math"
)

const (
	// MinDB is the minimum dB level (silence).
	MinDB = -60.0
	// MaxSampleValue is the maximum absolute value for 16-bit signed audio.
	MaxSampleValue = 32768.0
	// ClipThreshold is slightly below max to catch near-clips.
	ClipThreshold int16 = 32760
)

// LevelData holds raw sample accumulator data for level calculation.
type LevelData struct {
	SumSquares  float64
	Peak        float64
	ClipCount   int
	SampleCount int
}

// ProcessSamples processes S16LE mono PCM data and accumulates level data.
func ProcessSamples(buf []byte, n int, data *LevelData) {
	for i := 0; i+1 < n; i += 2 {
		sample := int16(binary.LittleEndian.Uint16(buf[i:]))
		v := float64(sample)

		data.SumSquares += v * v

		if abs := math.Abs(v); abs > data.Peak {
			data.Peak = abs
		}

		if sample >= ClipThreshold || sample <= -ClipThreshold {
			data.ClipCount++
		}

		data.SampleCount++
	}
}

// Levels contains calculated audio levels in dB.
type Levels struct {
	RMS  float64
	Peak float64
	Clip int
}

// CalculateLevels computes RMS and peak levels from accumulated sample data.
func CalculateLevels(data *LevelData) Levels {
	if data.SampleCount == 0 {
		return Levels{RMS: MinDB, Peak: MinDB}
	}

	rms := math.Sqrt(data.SumSquares / float64(data.SampleCount))

	// Convert to dB (reference: MaxSampleValue for 16-bit audio)
	db := 20 * math.Log10(rms/MaxSampleValue)
	peakDb := 20 * math.Log10(data.Peak/MaxSampleValue)

	return Levels{
		RMS:  max(db, MinDB),
		Peak: max(peakDb, MinDB),
		Clip: data.ClipCount,
	}
}

// Reset resets accumulators for the next measurement period.
func (d *LevelData) Reset() {
	d.SampleCount = 0
	d.SumSquares = 0
	d.Peak = 0
	d.ClipCount = 0
}
