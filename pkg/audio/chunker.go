package audio

// Chunker re-slices a PCM16 stream into fixed-duration chunks sized for
// device delivery. Input order is preserved; partial data stays buffered
// until Flush.
type Chunker struct {
	chunkBytes int
	buf        []byte
}

// NewChunker creates a chunker for the given stream parameters.
func NewChunker(sampleRate int, channels int, chunkDurationMs int) *Chunker {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	if chunkDurationMs <= 0 {
		chunkDurationMs = 300
	}
	frames := sampleRate * chunkDurationMs / 1000
	chunkBytes := frames * channels * 2
	if chunkBytes <= 0 {
		chunkBytes = 2
	}
	return &Chunker{chunkBytes: chunkBytes}
}

// ChunkBytes returns the size of a full chunk in bytes.
func (c *Chunker) ChunkBytes() int {
	return c.chunkBytes
}

// Write appends pcm and returns every complete chunk now available.
func (c *Chunker) Write(pcm []byte) [][]byte {
	if len(pcm) == 0 {
		return nil
	}
	c.buf = append(c.buf, pcm...)
	var chunks [][]byte
	for len(c.buf) >= c.chunkBytes {
		chunk := make([]byte, c.chunkBytes)
		copy(chunk, c.buf[:c.chunkBytes])
		c.buf = c.buf[c.chunkBytes:]
		chunks = append(chunks, chunk)
	}
	return chunks
}

// Flush returns the buffered remainder, if any, and resets the chunker.
func (c *Chunker) Flush() []byte {
	if len(c.buf) == 0 {
		return nil
	}
	rest := c.buf
	c.buf = nil
	return rest
}
