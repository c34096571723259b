// Package framing implements the pool wire framing: every frame is a
// 10-digit zero-padded decimal length header followed by that many raw bytes.
package framing

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"io"
	"strconv"

	"github.com/bardlex/gomp-miner/pkg/errors"
)

const (
	// HeaderLen is the fixed width of the length header
	HeaderLen = 10
	// MaxPayload is the largest frame either side will send or accept
	MaxPayload = 999_999_999
	// ReadChunk bounds a single payload read
	ReadChunk = 2000
)

// ErrConnectionClosed is the cause attached when the peer closes the stream
// cleanly between frames
var ErrConnectionClosed = stderrors.New("connection closed by peer")

// Conn sends and receives frames over a byte stream. It is not safe for
// concurrent use; callers must alternate request and response.
type Conn struct {
	r *bufio.Reader
	w io.Writer
}

// New wraps rw for framed I/O
func New(rw io.ReadWriter) *Conn {
	return &Conn{
		r: bufio.NewReaderSize(rw, 4096),
		w: rw,
	}
}

// Send writes one frame per value. All frames go out in a single Write so a
// cancelled caller never leaves a header without its payload from this layer.
func (c *Conn) Send(values ...any) error {
	buf, err := Encode(values...)
	if err != nil {
		return err
	}

	if _, err := c.w.Write(buf); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "send", "failed to write frames").
			WithContext("frames", len(values))
	}
	return nil
}

// Receive reads exactly one frame and returns its payload
func (c *Conn) Receive() ([]byte, error) {
	var header [HeaderLen]byte
	n, err := io.ReadFull(c.r, header[:])
	if err != nil {
		if n == 0 && stderrors.Is(err, io.EOF) {
			return nil, errors.Wrap(ErrConnectionClosed, errors.ErrorTypeConnection, "receive",
				"peer closed the connection")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "receive",
			"failed to read length header").
			WithContext("header_bytes", n)
	}

	size, err := ParseHeader(header[:])
	if err != nil {
		return nil, err
	}

	// Allocation follows the bytes received, never the declared size
	payload := make([]byte, 0, min(size, ReadChunk))
	var chunk [ReadChunk]byte
	for read := 0; read < size; {
		n, err := io.ReadFull(c.r, chunk[:min(size-read, ReadChunk)])
		payload = append(payload, chunk[:n]...)
		read += n
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "receive",
				"connection broken mid-frame").
				WithContext("expected", size).
				WithContext("received", read)
		}
	}

	return payload, nil
}

// ReceiveString reads one frame as a string
func (c *Conn) ReceiveString() (string, error) {
	payload, err := c.Receive()
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// Encode renders values as consecutive frames
func Encode(values ...any) ([]byte, error) {
	var buf []byte
	for _, v := range values {
		payload := FormatValue(v)
		if len(payload) > MaxPayload {
			return nil, errors.New(errors.ErrorTypeInternal, "encode", "payload exceeds frame limit").
				WithContext("size", len(payload))
		}
		buf = AppendFrame(buf, payload)
	}
	return buf, nil
}

// AppendFrame appends the header and payload to dst
func AppendFrame(dst []byte, payload string) []byte {
	dst = fmt.Appendf(dst, "%0*d", HeaderLen, len(payload))
	return append(dst, payload...)
}

// ParseHeader decodes a length header; only decimal digits up to MaxPayload
// are accepted
func ParseHeader(header []byte) (int, error) {
	if len(header) != HeaderLen {
		return 0, errors.New(errors.ErrorTypeFraming, "parse_header", "short length header").
			WithContext("header", string(header))
	}
	for _, b := range header {
		if b < '0' || b > '9' {
			return 0, errors.New(errors.ErrorTypeFraming, "parse_header", "length header is not decimal").
				WithContext("header", string(header))
		}
	}

	size, err := strconv.Atoi(string(header))
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeFraming, "parse_header", "invalid length header")
	}
	if size > MaxPayload {
		return 0, errors.New(errors.ErrorTypeFraming, "parse_header", "frame exceeds payload limit").
			WithContext("size", size).
			WithContext("limit", MaxPayload)
	}
	return size, nil
}

// FormatValue converts a value to its wire text
func FormatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
