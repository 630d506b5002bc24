package device

import (
	"encoding/hex"
	"sync"

	"go.uber.org/zap"

	"github.com/saker-ai/device-gateway/internal/command"
	"github.com/saker-ai/device-gateway/pkg/audio"
)

// Relay turns the vendor's synthesis audio stream into ordered play_audio
// commands sized for the device. Vendor opus is decoded, the rate is
// converted when it differs from the device rate, and the result is
// re-chunked to the configured duration.
type Relay struct {
	deviceID   string
	sampleRate int
	send       func(cmd command.Command)
	logger     *zap.Logger

	mu        sync.Mutex
	decoder   *audio.OpusDecoder
	resampler *audio.StreamResampler
	chunker   *audio.Chunker
	seq       int
	bytes     int
}

// RelayConfig represents a relayConfig.
type RelayConfig struct {
	DeviceID         string
	VendorCodec      string
	VendorSampleRate int
	DeviceSampleRate int
	Channels         int
	ChunkDurationMs  int
}

// NewRelay executes the newRelay function.
func NewRelay(cfg RelayConfig, send func(cmd command.Command), logger *zap.Logger) (*Relay, error) {
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.ChunkDurationMs <= 0 {
		cfg.ChunkDurationMs = 300
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Relay{
		deviceID:   cfg.DeviceID,
		sampleRate: cfg.DeviceSampleRate,
		send:       send,
		logger:     logger,
		chunker:    audio.NewChunker(cfg.DeviceSampleRate, cfg.Channels, cfg.ChunkDurationMs),
	}
	if cfg.VendorCodec == "opus" {
		decoder, err := audio.NewOpusDecoder(cfg.VendorSampleRate, cfg.Channels)
		if err != nil {
			return nil, err
		}
		r.decoder = decoder
	}
	if cfg.VendorSampleRate != cfg.DeviceSampleRate {
		resampler, err := audio.NewStreamResampler(cfg.VendorSampleRate, cfg.DeviceSampleRate)
		if err != nil {
			return nil, err
		}
		r.resampler = resampler
	}
	return r, nil
}

// HandleAudio ingests one vendor audio payload for the session and emits
// play_audio commands for every completed chunk.
func (r *Relay) HandleAudio(sessionID string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pcm := data
	if r.decoder != nil {
		decoded, err := r.decoder.Decode(data)
		if err != nil {
			r.logger.Warn("synthesis audio decode failed",
				zap.String("device_id", r.deviceID),
				zap.String("session_id", sessionID),
				zap.Error(err))
			return
		}
		pcm = decoded
	}
	if r.resampler != nil {
		resampled, err := r.resampler.ProcessPCM(pcm)
		if err != nil {
			r.logger.Warn("synthesis audio resample failed",
				zap.String("device_id", r.deviceID),
				zap.String("session_id", sessionID),
				zap.Error(err))
			return
		}
		pcm = resampled
	}
	for _, chunk := range r.chunker.Write(pcm) {
		r.emitLocked(sessionID, chunk)
	}
}

// Finish flushes buffered audio and emits a trailing audio_end command.
func (r *Relay) Finish(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resampler != nil {
		tail, err := r.resampler.Flush()
		if err == nil && len(tail) > 0 {
			for _, chunk := range r.chunker.Write(tail) {
				r.emitLocked(sessionID, chunk)
			}
		}
	}
	if tail := r.chunker.Flush(); len(tail) > 0 {
		r.emitLocked(sessionID, tail)
	}
	r.send(command.New("audio_end", map[string]any{
		"session_id":  sessionID,
		"total_seq":   r.seq,
		"total_bytes": r.bytes,
	}, 0))
	r.seq = 0
	r.bytes = 0
}

// SetEmotion emits a set_emotion command for the workflow's emotion tag.
func (r *Relay) SetEmotion(emotion string) {
	if emotion == "" {
		return
	}
	r.send(command.New("set_emotion", map[string]any{"emotion": emotion}, 0))
}

// Close releases codec resources.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resampler != nil {
		r.resampler.Close()
		r.resampler = nil
	}
}

func (r *Relay) emitLocked(sessionID string, chunk []byte) {
	r.seq++
	r.bytes += len(chunk)
	r.send(command.New("play_audio", map[string]any{
		"session_id":  sessionID,
		"seq":         r.seq,
		"sample_rate": r.sampleRate,
		"audio":       hex.EncodeToString(chunk),
	}, 0))
}
