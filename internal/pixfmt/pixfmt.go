// Package pixfmt converts camera NV12-style semi-planar frames into the
// planar I420 layout the video encoder consumes.
package pixfmt

import (
	"errors"
	"fmt"
)

var ErrShortFrame = errors.New("raw frame shorter than width*height*3/2")

// PlanarFrame is a planar 4:2:0 picture. Y aliases the caller's raw frame,
// U and V alias the converter's scratch buffers.
type PlanarFrame struct {
	Width   int
	Height  int
	Y       []byte
	U       []byte
	V       []byte
	StrideY int
	StrideU int
	StrideV int
}

// Largest accepted frame size
const (
	MaxWidth  = 4096
	MaxHeight = 2304
)

// CheckSize reports whether width x height is a frame size the converter
// accepts: positive, even and no larger than MaxWidth x MaxHeight.
func CheckSize(width, height int) error {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return fmt.Errorf("invalid frame size %dx%d: dimensions must be positive and even", width, height)
	}
	if width > MaxWidth || height > MaxHeight {
		return fmt.Errorf("frame size %dx%d exceeds %dx%d", width, height, MaxWidth, MaxHeight)
	}
	return nil
}

// FrameSize returns the byte size of a semi-planar 4:2:0 frame, or 0 when
// CheckSize rejects the dimensions.
func FrameSize(width, height int) int {
	if CheckSize(width, height) != nil {
		return 0
	}
	return width * height * 3 / 2
}

// Deinterleave splits an interleaved chroma plane so that v[i] = plane[2i]
// and u[i] = plane[2i+1]. u and v must hold at least len(plane)/2 bytes.
func Deinterleave(plane, u, v []byte) {
	n := len(plane) / 2
	u = u[:n]
	v = v[:n]
	for i := 0; i < n; i++ {
		v[i] = plane[2*i]
		u[i] = plane[2*i+1]
	}
}

// Interleave is the inverse of Deinterleave. plane must hold 2*len(u) bytes.
func Interleave(u, v, plane []byte) {
	plane = plane[:2*len(u)]
	for i := range u {
		plane[2*i] = v[i]
		plane[2*i+1] = u[i]
	}
}

// Converter owns the planar chroma scratch for one negotiated resolution.
// The scratch is sized once and reused by every Convert call, so a
// Converter must not be used from two goroutines at once.
type Converter struct {
	width  int
	height int
	u      []byte
	v      []byte
	frame  PlanarFrame
}

// NewConverter allocates scratch for width x height frames
func NewConverter(width, height int) (*Converter, error) {
	if err := CheckSize(width, height); err != nil {
		return nil, err
	}

	quarter := width * height / 4
	c := &Converter{
		width:  width,
		height: height,
		u:      make([]byte, quarter),
		v:      make([]byte, quarter),
	}
	c.frame = PlanarFrame{
		Width:   width,
		Height:  height,
		U:       c.u,
		V:       c.v,
		StrideY: width,
		StrideU: width / 2,
		StrideV: width / 2,
	}
	return c, nil
}

// Convert deinterleaves the chroma of raw into the scratch buffers and
// returns a planar view. The returned frame is only valid until the next call.
func (c *Converter) Convert(raw []byte) (*PlanarFrame, error) {
	luma := c.width * c.height
	if len(raw) < FrameSize(c.width, c.height) {
		return nil, fmt.Errorf("%w: got %d bytes for %dx%d", ErrShortFrame, len(raw), c.width, c.height)
	}

	Deinterleave(raw[luma:luma+luma/2], c.u, c.v)
	c.frame.Y = raw[:luma]
	return &c.frame, nil
}
