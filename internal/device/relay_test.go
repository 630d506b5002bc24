package device

import (
	"encoding/hex"
	"testing"

	"github.com/saker-ai/device-gateway/internal/command"
)

func TestRelayChunksAndFinishes(t *testing.T) {
	var sent []command.Command
	relay, err := NewRelay(RelayConfig{
		DeviceID:         "dev-001",
		VendorCodec:      "pcm",
		VendorSampleRate: 16000,
		DeviceSampleRate: 16000,
		Channels:         1,
		ChunkDurationMs:  10,
	}, func(cmd command.Command) { sent = append(sent, cmd) }, nil)
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}

	// 10 ms of 16 kHz mono PCM16 is 320 bytes; 800 bytes yields two full
	// chunks plus a 160 byte tail.
	relay.HandleAudio("s-1", make([]byte, 800))
	if len(sent) != 2 {
		t.Fatalf("commands=%d, want 2", len(sent))
	}
	for i, cmd := range sent {
		if cmd.Name != "play_audio" {
			t.Fatalf("command=%s, want play_audio", cmd.Name)
		}
		if seq := cmd.Parameters["seq"].(int); seq != i+1 {
			t.Fatalf("seq=%d, want %d", seq, i+1)
		}
		data, err := hex.DecodeString(cmd.Parameters["audio"].(string))
		if err != nil {
			t.Fatalf("audio not hex: %v", err)
		}
		if len(data) != 320 {
			t.Fatalf("chunk=%d bytes, want 320", len(data))
		}
	}

	relay.Finish("s-1")
	if len(sent) != 4 {
		t.Fatalf("commands=%d, want 4 after finish", len(sent))
	}
	tail := sent[2]
	if data, _ := hex.DecodeString(tail.Parameters["audio"].(string)); len(data) != 160 {
		t.Fatalf("tail=%d bytes, want 160", len(data))
	}
	end := sent[3]
	if end.Name != "audio_end" {
		t.Fatalf("last=%s, want audio_end", end.Name)
	}
	if end.Parameters["total_seq"].(int) != 3 || end.Parameters["total_bytes"].(int) != 800 {
		t.Fatalf("end parameters=%v", end.Parameters)
	}
}

func TestRelaySetEmotion(t *testing.T) {
	var sent []command.Command
	relay, err := NewRelay(RelayConfig{
		DeviceID:         "dev-001",
		VendorCodec:      "pcm",
		VendorSampleRate: 16000,
		DeviceSampleRate: 16000,
	}, func(cmd command.Command) { sent = append(sent, cmd) }, nil)
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}

	relay.SetEmotion("")
	if len(sent) != 0 {
		t.Fatalf("commands=%d, want 0 for empty emotion", len(sent))
	}
	relay.SetEmotion("happy")
	if len(sent) != 1 || sent[0].Name != "set_emotion" {
		t.Fatalf("commands=%v", sent)
	}
	if sent[0].Parameters["emotion"] != "happy" {
		t.Fatalf("emotion=%v", sent[0].Parameters["emotion"])
	}
}
