// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"

	"golang.org/x/image/bmp"

	"github.com/ManuGH/vigil/internal/imaging"
)

const (
	bmpFileHeaderSize = 14
	bmpMinSize        = bmpFileHeaderSize + 40
	// DefaultMaxFrameBytes accepts up to 8K rgb24 frames.
	DefaultMaxFrameBytes = 7680*4320*3 + 1024
)

// ErrBadFrame is returned when the image2pipe stream loses BMP framing.
var ErrBadFrame = errors.New("malformed bmp frame")

// BMPReader splits an image2pipe stream of BMP images into decoded frames.
// Each image is framed by the file size in its 14-byte header.
type BMPReader struct {
	r        *bufio.Reader
	buf      []byte
	maxBytes int
}

// NewBMPReader wraps r. maxBytes <= 0 uses DefaultMaxFrameBytes.
func NewBMPReader(r io.Reader, maxBytes int) *BMPReader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	return &BMPReader{r: bufio.NewReaderSize(r, 1<<20), maxBytes: maxBytes}
}

// Next blocks until a complete frame is read and decoded.
func (b *BMPReader) Next() (*image.RGBA, error) {
	var header [bmpFileHeaderSize]byte
	if _, err := io.ReadFull(b.r, header[:]); err != nil {
		return nil, err
	}
	if header[0] != 'B' || header[1] != 'M' {
		return nil, fmt.Errorf("%w: missing BM signature", ErrBadFrame)
	}
	size := int(binary.LittleEndian.Uint32(header[2:6]))
	if size < bmpMinSize || size > b.maxBytes {
		return nil, fmt.Errorf("%w: size %d", ErrBadFrame, size)
	}
	if cap(b.buf) < size {
		b.buf = make([]byte, size)
	}
	b.buf = b.buf[:size]
	copy(b.buf, header[:])
	if _, err := io.ReadFull(b.r, b.buf[bmpFileHeaderSize:]); err != nil {
		return nil, err
	}
	img, err := bmp.Decode(bytes.NewReader(b.buf))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadFrame, err)
	}
	return imaging.ToRGBA(img), nil
}
