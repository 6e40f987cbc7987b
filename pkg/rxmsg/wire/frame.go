package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

const frameHeaderLen = 4

// Limits constrains frame memory use.
type Limits struct {
	MaxFrameBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxFrameBytes: 8 * 1024 * 1024}
}

// ReadFrame reads one length-prefixed frame. It returns io.EOF only when the
// stream ends cleanly on a frame boundary.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if limits.MaxFrameBytes > 0 && n > limits.MaxFrameBytes {
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// WriteFrame writes body with its length prefix in a single Write call.
func WriteFrame(w io.Writer, body []byte, limits Limits) error {
	if limits.MaxFrameBytes > 0 && uint64(len(body)) > uint64(limits.MaxFrameBytes) {
		return ErrFrameTooLarge
	}

	buf := make([]byte, frameHeaderLen+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[frameHeaderLen:], body)
	_, err := w.Write(buf)
	return err
}
