package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	maxLineBytes        = 1024 * 1024
	defaultPollInterval = 250 * time.Millisecond
)

// Last returns up to n trailing lines of path and the offset just past them.
// A missing file yields no lines and offset zero.
func Last(path string, n int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return nil, 0, fmt.Errorf("log path %q is a directory", path)
	}
	if n <= 0 {
		return nil, info.Size(), nil
	}

	ring := make([]string, n)
	count, next := 0, 0
	read, err := scanLines(file, func(line string) {
		ring[next] = line
		next = (next + 1) % n
		if count < n {
			count++
		}
	})
	if err != nil {
		return nil, 0, err
	}

	lines := make([]string, 0, count)
	start := 0
	if count == n {
		start = next
	}
	for i := 0; i < count; i++ {
		lines = append(lines, ring[(start+i)%n])
	}
	return lines, read, nil
}

// FollowOptions configures Follow.
type FollowOptions struct {
	// Offset is where streaming starts; use the offset returned by Last.
	Offset int64
	// Poll is the check interval; zero selects 250ms.
	Poll time.Duration
}

// Follow calls emit for every complete line appended to path until ctx is
// done. It returns nil on cancellation.
func Follow(ctx context.Context, path string, opts FollowOptions, emit func(string)) error {
	poll := opts.Poll
	if poll <= 0 {
		poll = defaultPollInterval
	}
	offset := opts.Offset
	current, _ := os.Stat(path)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		info, err := os.Stat(path)
		switch {
		case err == nil:
			if current != nil && !os.SameFile(current, info) {
				// pointer moved to a new run
				offset = 0
			}
			current = info
			if info.Size() < offset {
				offset = 0
			}
			if info.Size() > offset {
				next, err := readFrom(path, offset, emit)
				if err != nil {
					return err
				}
				offset = next
			}
		case errors.Is(err, os.ErrNotExist):
			current = nil
			offset = 0
		default:
			return fmt.Errorf("stat log file: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// readFrom emits complete lines after offset. A trailing partial line is left
// for the next call.
func readFrom(path string, offset int64, emit func(string)) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return offset, nil
			}
			return offset, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(line))
		emit(trimNewline(line))
	}
}

func scanLines(r io.Reader, fn func(string)) (int64, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var read int64
	scanner.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		advance, token, err := bufio.ScanLines(data, atEOF)
		read += int64(advance)
		return advance, token, err
	})
	for scanner.Scan() {
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read log file: %w", err)
	}
	return read, nil
}

func trimNewline(line string) string {
	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}
