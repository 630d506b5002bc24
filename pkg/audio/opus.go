package audio

import (
	"errors"

	godepsopus "github.com/godeps/opus"
)

const opusMaxFrameDurationMs = 120

// OpusDecoder decodes opus frames to PCM16 bytes.
type OpusDecoder struct {
	decoder    *godepsopus.Decoder
	sampleRate int
	channels   int
}

// NewOpusDecoder creates a decoder for the given stream parameters.
func NewOpusDecoder(sampleRate int, channels int) (*OpusDecoder, error) {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	decoder, err := godepsopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, err
	}
	return &OpusDecoder{decoder: decoder, sampleRate: sampleRate, channels: channels}, nil
}

// Decode converts one opus frame to little-endian PCM16 bytes.
func (d *OpusDecoder) Decode(frame []byte) ([]byte, error) {
	if d == nil || d.decoder == nil {
		return nil, errors.New("audio: opus decoder is not initialized")
	}
	if len(frame) == 0 {
		return nil, nil
	}
	maxSamples := d.sampleRate * opusMaxFrameDurationMs / 1000
	if maxSamples <= 0 {
		maxSamples = 5760
	}
	pcm := make([]int16, maxSamples*d.channels)
	decoded, err := d.decoder.Decode(frame, pcm)
	if err != nil {
		return nil, err
	}
	if decoded <= 0 {
		return nil, nil
	}
	return Int16ToBytes(pcm[:decoded*d.channels]), nil
}
