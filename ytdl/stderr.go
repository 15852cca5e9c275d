package ytdl

import (
	"bytes"
	"strings"
	"sync"
)

const stderrLines = 8

// lineRing is an io.Writer remembering the last few lines written to it.
type lineRing struct {
	mu      sync.Mutex
	lines   []string
	max     int
	partial []byte
}

func newLineRing(max int) *lineRing {
	return &lineRing{max: max}
}

func (r *lineRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			r.partial = append(r.partial, p...)
			break
		}
		r.partial = append(r.partial, p[:i]...)
		r.add(string(r.partial))
		r.partial = r.partial[:0]
		p = p[i+1:]
	}
	return n, nil
}

func (r *lineRing) add(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	if len(r.lines) == r.max {
		copy(r.lines, r.lines[1:])
		r.lines = r.lines[:r.max-1]
	}
	r.lines = append(r.lines, line)
}

// Lines produces the remembered lines, oldest first,
// including a final line with no newline.
func (r *lineRing) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := append([]string(nil), r.lines...)
	if len(r.partial) > 0 {
		result = append(result, string(r.partial))
		if len(result) > r.max {
			result = result[1:]
		}
	}
	return result
}
