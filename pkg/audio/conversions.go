// Package audio provides PCM helpers for the speech relay path:
// sample conversions, duration-based chunking, resampling and opus decode.
package audio

import "math"

// BytesToInt16 converts little-endian PCM16 bytes to samples.
// A trailing odd byte is dropped.
func BytesToInt16(pcm []byte) []int16 {
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
	}
	return out
}

// Int16ToBytes converts samples to little-endian PCM16 bytes.
func Int16ToBytes(samples []int16) []byte {
	if len(samples) == 0 {
		return nil
	}
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}
	return out
}

// Int16ToFloat32 converts samples to the [-1, 1] float range.
func Int16ToFloat32(samples []int16) []float32 {
	if len(samples) == 0 {
		return nil
	}
	out := make([]float32, len(samples))
	for i, sample := range samples {
		out[i] = float32(sample) / float32(math.MaxInt16)
	}
	return out
}

// Float32ToInt16 converts float samples back to PCM16, clamping.
func Float32ToInt16(samples []float32) []int16 {
	if len(samples) == 0 {
		return nil
	}
	out := make([]int16, len(samples))
	for i, sample := range samples {
		out[i] = clampFloat32(sample)
	}
	return out
}

func clampFloat32(sample float32) int16 {
	if sample > 1.0 {
		return math.MaxInt16
	}
	if sample < -1.0 {
		return math.MinInt16
	}
	return int16(sample * math.MaxInt16)
}
