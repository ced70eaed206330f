package logs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	pollInterval = 250 * time.Millisecond
	chunkSize    = 8 * 1024
	maxLineBytes = 1024 * 1024
)

// TailOptions selects which lines Tail returns.
type TailOptions struct {
	// Offset is the byte position to resume from. Negative returns the last
	// Limit lines instead.
	Offset int64
	// Limit caps the number of lines returned. Zero means no cap when resuming
	// and no lines when tailing from the end.
	Limit int
	// Wait bounds how long Tail polls for new lines when none are available.
	Wait time.Duration
}

// TailResult carries the lines read and the offset to pass on the next call.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads complete lines from path. A missing file yields no lines and a
// zero offset so callers can start polling before the daemon first logs.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return TailResult{}, nil
	}
	if err != nil {
		return TailResult{}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return TailResult{}, fmt.Errorf("log path %q is a directory", path)
	}

	offset := opts.Offset
	if offset < 0 {
		lines, next, err := lastLines(path, opts.Limit)
		if err != nil || len(lines) > 0 || opts.Wait <= 0 {
			return TailResult{Lines: lines, Offset: next}, err
		}
		offset = next
	}

	deadline := time.Now().Add(opts.Wait)
	for {
		lines, next, err := readLines(path, offset, opts.Limit)
		if err != nil {
			return TailResult{Offset: offset}, err
		}
		if len(lines) > 0 || !time.Now().Before(deadline) {
			return TailResult{Lines: lines, Offset: next}, nil
		}
		offset = next

		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return TailResult{Offset: offset}, ctx.Err()
		case <-timer.C:
		}
	}
}

// lastLines reads backwards from the end of the file until it has limit
// complete lines.
func lastLines(path string, limit int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	size := info.Size()
	if limit <= 0 {
		return nil, size, nil
	}

	var buf []byte
	pos := size
	for pos > 0 && bytes.Count(buf, []byte{'\n'}) <= limit {
		n := min(int64(chunkSize), pos)
		pos -= n
		chunk := make([]byte, n)
		if _, err := file.ReadAt(chunk, pos); err != nil && !errors.Is(err, io.EOF) {
			return nil, 0, fmt.Errorf("read log file: %w", err)
		}
		buf = append(chunk, buf...)
	}

	end := bytes.LastIndexByte(buf, '\n')
	if end < 0 {
		return nil, pos, nil
	}
	lines := strings.Split(string(buf[:end]), "\n")
	if pos > 0 {
		// The first segment starts mid-line.
		lines = lines[1:]
	}
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines, pos + int64(end) + 1, nil
}

// readLines returns up to limit complete lines starting at offset. An offset
// past the end of the file means it was truncated or rotated, so reading
// restarts from the beginning.
func readLines(path string, offset int64, limit int) ([]string, int64, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("stat log file: %w", err)
	}
	if offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, chunkSize)
	var lines []string
	for limit <= 0 || len(lines) < limit {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return lines, offset, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(line))
		line = strings.TrimRight(line, "\r\n")
		if len(line) > maxLineBytes {
			line = line[:maxLineBytes]
		}
		lines = append(lines, line)
	}
	return lines, offset, nil
}
