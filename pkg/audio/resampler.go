package audio

import (
	"errors"

	resampler "github.com/godeps/go-audio-soxr"
)

// StreamResampler converts a continuous PCM16 stream from one sample rate
// to another, keeping filter state across calls.
type StreamResampler struct {
	inRate  int
	outRate int
	engine  *resampler.SimpleResamplerFloat32
}

// NewStreamResampler creates a streaming resampler.
func NewStreamResampler(inRate, outRate int) (*StreamResampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, errors.New("audio: invalid resampler rates")
	}
	engine, err := resampler.NewEngineFloat32(float64(inRate), float64(outRate), resampler.QualityHigh)
	if err != nil {
		return nil, err
	}
	return &StreamResampler{inRate: inRate, outRate: outRate, engine: engine}, nil
}

// ProcessPCM resamples little-endian PCM16 bytes. The returned slice may be
// empty while the engine buffers input.
func (s *StreamResampler) ProcessPCM(pcm []byte) ([]byte, error) {
	if s == nil || s.engine == nil {
		return nil, errors.New("audio: resampler is closed")
	}
	if len(pcm) == 0 {
		return nil, nil
	}
	out, err := s.engine.Process(Int16ToFloat32(BytesToInt16(pcm)))
	if err != nil {
		return nil, err
	}
	return Int16ToBytes(Float32ToInt16(out)), nil
}

// Flush drains any samples still held by the engine.
func (s *StreamResampler) Flush() ([]byte, error) {
	if s == nil || s.engine == nil {
		return nil, nil
	}
	out, err := s.engine.Flush()
	if err != nil {
		return nil, err
	}
	return Int16ToBytes(Float32ToInt16(out)), nil
}

// Close releases the underlying engine.
func (s *StreamResampler) Close() {
	if s == nil || s.engine == nil {
		return
	}
	s.engine.Reset()
	s.engine = nil
}
