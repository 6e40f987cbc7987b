package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	limits := DefaultLimits()

	require.NoError(t, WriteFrame(&buf, []byte(`{"t":2}`), limits))
	require.NoError(t, WriteFrame(&buf, []byte{}, limits))
	require.NoError(t, WriteFrame(&buf, []byte(`{"t":0,"c":"x"}`), limits))

	assert.Equal(t, []byte{0, 0, 0, 7}, buf.Bytes()[:4])

	first, err := ReadFrame(&buf, limits)
	require.NoError(t, err)
	assert.Equal(t, `{"t":2}`, string(first))

	empty, err := ReadFrame(&buf, limits)
	require.NoError(t, err)
	assert.Empty(t, empty)

	third, err := ReadFrame(&buf, limits)
	require.NoError(t, err)
	assert.Equal(t, `{"t":0,"c":"x"}`, string(third))

	_, err = ReadFrame(&buf, limits)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], 10)
	buf.Write(hdr[:])
	buf.WriteString("abc")

	_, err := ReadFrame(&buf, DefaultLimits())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadFrame(bytes.NewReader([]byte{0, 0}), DefaultLimits())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestFrameLimits(t *testing.T) {
	limits := Limits{MaxFrameBytes: 8}

	var buf bytes.Buffer
	assert.ErrorIs(t, WriteFrame(&buf, []byte("123456789"), limits), ErrFrameTooLarge)
	assert.Zero(t, buf.Len())

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], 1<<30)
	_, err := ReadFrame(bytes.NewReader(hdr[:]), limits)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}
