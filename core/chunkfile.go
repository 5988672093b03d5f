package core

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// ChunkFile is the output file of a fetch. Chunks arrive out of order
// from many workers and are written at their own offsets; the file is
// sparse until the gaps fill in. All workers share the handle, so every
// seek+write pair runs under one mutex.
type ChunkFile struct {
	mu     sync.Mutex
	file   *os.File
	closed bool
}

// CreateChunkFile creates or truncates the file at path.
func CreateChunkFile(path string) (*ChunkFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return &ChunkFile{file: f}, nil
}

// WriteChunk writes data at the given byte offset.
func (c *ChunkFile) WriteChunk(offset int64, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return os.ErrClosed
	}
	if _, err := c.file.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek to %d: %w", offset, err)
	}
	if _, err := c.file.Write(data); err != nil {
		return fmt.Errorf("write at %d: %w", offset, err)
	}
	return nil
}

// Close syncs outstanding writes to disk and closes the handle.
func (c *ChunkFile) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.file.Sync(); err != nil {
		c.file.Close()
		return err
	}
	return c.file.Close()
}
