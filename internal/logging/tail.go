package logging

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// FollowInterval is how often Follow polls the log file.
var FollowInterval = 200 * time.Millisecond

// LastLines returns the last n lines of r.
func LastLines(r io.Reader, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	lines := newTail(n)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines.push(scanner.Text())
	}
	return lines.slice(), scanner.Err()
}

type tail struct {
	lines []string
	next  int
	count int
}

func newTail(n int) *tail { return &tail{lines: make([]string, n)} }

func (t *tail) push(s string) {
	t.lines[t.next] = s
	t.next = (t.next + 1) % len(t.lines)
	t.count++
}

func (t *tail) slice() []string {
	n := min(t.count, len(t.lines))
	out := make([]string, n)
	for i := range n {
		out[i] = t.lines[(t.next-n+i+len(t.lines))%len(t.lines)]
	}
	return out
}

// Follow prints the last n lines of path to w, then every line appended
// until ctx is done. A file that shrinks or disappears is treated as rotated
// and reopened from the start.
func Follow(ctx context.Context, path string, n int, w io.Writer) error {
	f, err := waitOpen(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	initial, err := LastLines(f, n)
	if err != nil {
		return err
	}
	for _, line := range initial {
		_, _ = fmt.Fprintln(w, line)
	}
	pos, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("logging: seek: %w", err)
	}

	reader := bufio.NewReader(f)
	ticker := time.NewTicker(FollowInterval)
	defer ticker.Stop()
	var partial string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if info, err := os.Stat(path); err != nil || info.Size() < pos {
			_ = f.Close()
			if f, err = waitOpen(ctx, path); err != nil {
				return err
			}
			reader.Reset(f)
			pos, partial = 0, ""
		}
		for {
			chunk, err := reader.ReadString('\n')
			pos += int64(len(chunk))
			partial += chunk
			if err != nil {
				break
			}
			_, _ = io.WriteString(w, partial)
			partial = ""
		}
	}
}

func waitOpen(ctx context.Context, path string) (*os.File, error) {
	for {
		f, err := os.Open(path)
		if err == nil {
			return f, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("logging: open %s: %w", path, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(FollowInterval):
		}
	}
}
