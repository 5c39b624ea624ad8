// Package capture reads raw video and audio and feeds them to a session.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// VideoSource produces raw NV12 frames
type VideoSource interface {
	// ReadFrame fills frame with the next frame. It returns io.EOF when
	// the source is exhausted.
	ReadFrame(frame []byte) error
}

// AudioSource produces interleaved signed 16-bit samples
type AudioSource interface {
	// ReadSamples fills buf and returns the number of samples read.
	// It returns io.EOF when the source is exhausted.
	ReadSamples(buf []int16) (int, error)
}

// RawVideoReader reads back-to-back NV12 frames from r
type RawVideoReader struct {
	r io.Reader
}

func NewRawVideoReader(r io.Reader) *RawVideoReader {
	return &RawVideoReader{r: r}
}

func (v *RawVideoReader) ReadFrame(frame []byte) error {
	_, err := io.ReadFull(v.r, frame)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		// trailing partial frame
		return io.EOF
	}
	return err
}

// PCMReader reads little-endian s16 PCM from r
type PCMReader struct {
	r   io.Reader
	raw []byte
}

func NewPCMReader(r io.Reader) *PCMReader {
	return &PCMReader{r: r}
}

func (p *PCMReader) ReadSamples(buf []int16) (int, error) {
	if cap(p.raw) < len(buf)*2 {
		p.raw = make([]byte, len(buf)*2)
	}
	raw := p.raw[:len(buf)*2]

	n, err := io.ReadFull(p.r, raw)
	n /= 2
	for i := 0; i < n; i++ {
		buf[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	}
	return n, err
}

// TestPattern generates moving color bars. Chroma is interleaved V first,
// the layout the session converter expects.
type TestPattern struct {
	width  int
	height int
	limit  int
	frame  int
}

// NewTestPattern creates a pattern of the given size. frames limits the
// number of frames produced; 0 means unlimited.
func NewTestPattern(width, height, frames int) (*TestPattern, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	return &TestPattern{width: width, height: height, limit: frames}, nil
}

// bars holds Y, U, V for white, yellow, cyan, green, magenta, red, blue
var bars = [][3]byte{
	{235, 128, 128},
	{210, 16, 146},
	{170, 166, 16},
	{145, 54, 34},
	{106, 202, 222},
	{81, 90, 240},
	{41, 240, 110},
}

func (p *TestPattern) ReadFrame(frame []byte) error {
	if p.limit > 0 && p.frame >= p.limit {
		return io.EOF
	}
	size := p.width * p.height * 3 / 2
	if len(frame) < size {
		return fmt.Errorf("frame buffer of %d bytes, need %d", len(frame), size)
	}

	shift := p.frame * 4
	bar := func(x int) [3]byte {
		return bars[((x+shift)%p.width)*len(bars)/p.width]
	}

	luma := frame[:p.width*p.height]
	for y := 0; y < p.height; y++ {
		row := luma[y*p.width : (y+1)*p.width]
		for x := range row {
			row[x] = bar(x)[0]
		}
	}

	chroma := frame[p.width*p.height : size]
	for y := 0; y < p.height/2; y++ {
		row := chroma[y*p.width : (y+1)*p.width]
		for x := 0; x < p.width; x += 2 {
			c := bar(x)
			row[x] = c[2]
			row[x+1] = c[1]
		}
	}

	p.frame++
	return nil
}

// Tone generates a sine wave on every channel
type Tone struct {
	sampleRate int
	channels   int
	freq       float64
	limit      int64
	pos        int64
}

// NewTone creates a tone at freq Hz. samples limits the number of samples
// per channel produced; 0 means unlimited.
func NewTone(sampleRate, channels int, freq float64, samples int64) (*Tone, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid audio format %d Hz x%d", sampleRate, channels)
	}
	return &Tone{sampleRate: sampleRate, channels: channels, freq: freq, limit: samples}, nil
}

func (t *Tone) ReadSamples(buf []int16) (int, error) {
	frames := len(buf) / t.channels
	if t.limit > 0 {
		left := t.limit - t.pos
		if left <= 0 {
			return 0, io.EOF
		}
		if int64(frames) > left {
			frames = int(left)
		}
	}

	for i := 0; i < frames; i++ {
		phase := 2 * math.Pi * t.freq * float64(t.pos) / float64(t.sampleRate)
		s := int16(math.Sin(phase) * 0.25 * math.MaxInt16)
		for c := 0; c < t.channels; c++ {
			buf[i*t.channels+c] = s
		}
		t.pos++
	}
	return frames * t.channels, nil
}
