package service

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// readLogStream reads a container log stream into memory. Streams from
// containers without a TTY are multiplexed: each frame carries an 8-byte
// header [STREAM_TYPE, 0, 0, 0, SIZE1, SIZE2, SIZE3, SIZE4] which is
// stripped. TTY streams have no header and are returned as is.
func readLogStream(reader io.Reader) ([]byte, error) {
	br := bufio.NewReader(reader)

	peek, err := br.Peek(8)
	if err != nil && len(peek) == 0 {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read log stream: %w", err)
	}
	if !isMultiplexHeader(peek) {
		data, err := io.ReadAll(br)
		if err != nil {
			return nil, fmt.Errorf("failed to read log stream: %w", err)
		}
		return data, nil
	}

	var result []byte
	header := make([]byte, 8)
	buf := make([]byte, 32*1024)

	for {
		if _, err := io.ReadFull(br, header); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to read log header: %w", err)
		}

		// Payload size is big-endian
		size := uint32(header[4])<<24 | uint32(header[5])<<16 | uint32(header[6])<<8 | uint32(header[7])
		if size == 0 {
			continue
		}
		if size > uint32(len(buf)) {
			buf = make([]byte, size)
		}

		n, err := io.ReadFull(br, buf[:size])
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				result = append(result, buf[:n]...)
				break
			}
			return nil, fmt.Errorf("failed to read log payload: %w", err)
		}
		result = append(result, buf[:n]...)
	}

	return result, nil
}

func isMultiplexHeader(b []byte) bool {
	if len(b) < 8 {
		return false
	}
	return b[0] <= 2 && b[1] == 0 && b[2] == 0 && b[3] == 0
}

// splitLines splits data into lines and keeps at most the last max.
func splitLines(data []byte, max int) []string {
	text := strings.TrimRight(string(bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))), "\n")
	if text == "" {
		return []string{}
	}
	lines := strings.Split(text, "\n")
	if max > 0 && len(lines) > max {
		lines = lines[len(lines)-max:]
	}
	return lines
}
