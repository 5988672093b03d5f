package core

import (
	"bufio"
	"fmt"
	"strings"
)

// ChunkSize is the fixed transfer unit. The last chunk of a file may be
// shorter.
const ChunkSize = 256 * 1024

// Data-plane verbs. Anything else on the request line is treated as a
// bare filename and answered with the whole file.
const (
	CmdFilesize  = "FILESIZE"
	CmdSendChunk = "SENDCHUNK"
)

// NumChunks returns the number of chunks needed to cover size bytes.
func NumChunks(size int64) int64 {
	return (size + ChunkSize - 1) / ChunkSize
}

// ChunkSpan returns the byte range of chunk index within a file of the
// given size. Length is 0 when the index is past the end of the file.
func ChunkSpan(index, size int64) (offset, length int64) {
	offset = index * ChunkSize
	if offset >= size {
		return offset, 0
	}
	length = size - offset
	if length > ChunkSize {
		length = ChunkSize
	}
	return offset, length
}

// readLine reads one \n-terminated request line and strips the
// terminator plus any trailing \r.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read line: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
