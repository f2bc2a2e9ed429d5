package common

import (
	"bufio"
	"io"

	"github.com/Lintsukishima/Gateway-github-2/internal/constants"
)

// LineScanner iterates over raw SSE lines from an upstream stream. The relay
// forwards frames byte-for-byte, so lines are returned unparsed.
type LineScanner struct {
	scanner *bufio.Scanner
}

// NewLineScanner creates a scanner with standard buffer settings.
func NewLineScanner(r io.Reader) *LineScanner {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, constants.SSEScannerBufferSize)
	scanner.Buffer(buf, constants.SSEScannerMaxSize)
	return &LineScanner{scanner: scanner}
}

// Next returns the next line without its trailing newline. ok is false once
// the stream ends; err reports scanner failures.
func (s *LineScanner) Next() (line string, ok bool, err error) {
	if s.scanner.Scan() {
		return s.scanner.Text(), true, nil
	}
	return "", false, s.scanner.Err()
}
