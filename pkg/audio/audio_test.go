package audio

import (
	"bytes"
	"testing"
)

func TestBytesInt16RoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 1234}
	got := BytesToInt16(Int16ToBytes(samples))
	if len(got) != len(samples) {
		t.Fatalf("len=%d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample[%d]=%d, want %d", i, got[i], samples[i])
		}
	}
}

func TestBytesToInt16DropsOddByte(t *testing.T) {
	got := BytesToInt16([]byte{0x01, 0x00, 0xFF})
	if len(got) != 1 {
		t.Fatalf("len=%d, want 1", len(got))
	}
	if got[0] != 1 {
		t.Fatalf("sample=%d, want 1", got[0])
	}
}

func TestFloat32ToInt16Clamps(t *testing.T) {
	got := Float32ToInt16([]float32{2.0, -2.0, 0})
	if got[0] != 32767 {
		t.Fatalf("clamped high=%d, want 32767", got[0])
	}
	if got[1] != -32768 {
		t.Fatalf("clamped low=%d, want -32768", got[1])
	}
	if got[2] != 0 {
		t.Fatalf("zero=%d, want 0", got[2])
	}
}

func TestChunkerEmitsFixedChunksInOrder(t *testing.T) {
	// 10 ms at 1000 Hz mono = 10 frames = 20 bytes per chunk.
	c := NewChunker(1000, 1, 10)
	if c.ChunkBytes() != 20 {
		t.Fatalf("chunk bytes=%d, want 20", c.ChunkBytes())
	}

	input := make([]byte, 50)
	for i := range input {
		input[i] = byte(i)
	}

	chunks := c.Write(input[:30])
	if len(chunks) != 1 {
		t.Fatalf("chunks after 30 bytes=%d, want 1", len(chunks))
	}
	chunks = append(chunks, c.Write(input[30:])...)
	if len(chunks) != 2 {
		t.Fatalf("chunks after 50 bytes=%d, want 2", len(chunks))
	}

	rest := c.Flush()
	if len(rest) != 10 {
		t.Fatalf("flush len=%d, want 10", len(rest))
	}

	var joined []byte
	for _, chunk := range chunks {
		joined = append(joined, chunk...)
	}
	joined = append(joined, rest...)
	if !bytes.Equal(joined, input) {
		t.Fatal("reassembled stream differs from input")
	}
}

func TestChunkerFlushEmpty(t *testing.T) {
	c := NewChunker(16000, 1, 300)
	if rest := c.Flush(); rest != nil {
		t.Fatalf("flush=%v, want nil", rest)
	}
}
