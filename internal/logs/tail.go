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

const maxLineBytes = 1 << 20

// Last returns up to n trailing lines of path and the offset just past them.
// A missing file yields no lines and offset 0.
func Last(path string, n int) ([]string, int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if n <= 0 {
		end, err := f.Seek(0, io.SeekEnd)
		return nil, end, err
	}

	ring := make([]string, 0, n)
	start := 0
	offset, err := scanLines(f, func(line string) {
		if len(ring) < n {
			ring = append(ring, line)
			return
		}
		ring[start] = line
		start = (start + 1) % n
	})
	if err != nil {
		return nil, 0, err
	}
	lines := make([]string, 0, len(ring))
	lines = append(lines, ring[start:]...)
	lines = append(lines, ring[:start]...)
	return lines, offset, nil
}

// Follow calls emit for every complete line appended to path after offset
// until ctx ends. A file that shrinks or is replaced is read from the start.
func Follow(ctx context.Context, path string, offset int64, poll time.Duration, emit func(string)) error {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var lastInode uint64
	for {
		next, inode, err := readFrom(path, offset, lastInode, emit)
		if err != nil {
			return err
		}
		offset, lastInode = next, inode
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func readFrom(path string, offset int64, lastInode uint64, emit func(string)) (int64, uint64, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, 0, nil
	}
	if err != nil {
		return offset, lastInode, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return offset, lastInode, fmt.Errorf("stat log file: %w", err)
	}
	inode := inodeOf(info)
	if info.Size() < offset || (lastInode != 0 && inode != lastInode) {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, inode, fmt.Errorf("seek log file: %w", err)
	}
	consumed, err := scanLines(f, emit)
	if err != nil {
		return offset, inode, err
	}
	return offset + consumed, inode, nil
}

// scanLines emits complete lines and returns the bytes consumed, leaving a
// trailing partial line for the next read.
func scanLines(r io.Reader, emit func(string)) (int64, error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	var consumed int64
	for {
		line, err := reader.ReadString('\n')
		if err == nil {
			consumed += int64(len(line))
			emit(trimEOL(line))
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(line) > maxLineBytes {
				consumed += int64(len(line))
				emit(line)
			}
			return consumed, nil
		}
		return consumed, fmt.Errorf("read log file: %w", err)
	}
}

func trimEOL(line string) string {
	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}
