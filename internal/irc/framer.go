package irc

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/ergochat/irc-go/ircreader"
)

const (
	initialBufferSize = 1024
	// MaxLineLength bounds an inbound line including IRCv3 tags.
	MaxLineLength = 8192 + 512
)

// ErrConnectionClosed is returned once the peer closes the stream.
var ErrConnectionClosed = errors.New("irc: connection closed")

// LineReader splits a byte stream into lines terminated by \r\n (a bare \n
// is tolerated). The terminator is stripped. A partial line left in the
// buffer when the stream ends is discarded, never returned.
type LineReader struct {
	r ircreader.Reader
}

// NewLineReader wraps rd. Reads block only the calling goroutine.
func NewLineReader(rd io.Reader) *LineReader {
	lr := &LineReader{}
	lr.r.Initialize(rd, initialBufferSize, MaxLineLength)
	return lr
}

// ReadLine returns the next complete line.
func (lr *LineReader) ReadLine() (string, error) {
	line, err := lr.r.ReadLine()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			return "", ErrConnectionClosed
		}
		return "", fmt.Errorf("read line: %w", err)
	}
	// the reader reuses its buffer
	return string(line), nil
}
