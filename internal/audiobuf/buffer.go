// Package audiobuf re-blocks irregular PCM input into codec-sized blocks.
package audiobuf

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the sample capacity used when none is configured
const DefaultCapacity = 16384

var ErrOverflow = errors.New("audio buffer overflow")

// Buffer is a bounded FIFO of 16-bit samples. Samples stay contiguous at
// the front of the backing array so FrontBlock can hand out a view
// without copying. It is not safe for concurrent use.
type Buffer struct {
	samples []int16
	size    int
	log     logrus.FieldLogger
}

// New creates a buffer holding at most capacity samples
func New(capacity int, log logrus.FieldLogger) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Buffer{
		samples: make([]int16, capacity),
		log:     log,
	}
}

// Push appends chunk to the tail. A chunk that does not fit is dropped
// whole and ErrOverflow is returned; the buffer is left unchanged.
func (b *Buffer) Push(chunk []int16) error {
	if b.size+len(chunk) > len(b.samples) {
		b.log.WithFields(logrus.Fields{
			"held":     b.size,
			"chunk":    len(chunk),
			"capacity": len(b.samples),
		}).Warn("Audio buffer overflow, dropping chunk")
		return ErrOverflow
	}

	copy(b.samples[b.size:], chunk)
	b.size += len(chunk)
	return nil
}

// Size returns the number of buffered samples
func (b *Buffer) Size() int {
	return b.size
}

// Capacity returns the maximum number of samples the buffer holds
func (b *Buffer) Capacity() int {
	return len(b.samples)
}

// FrontBlock returns a view of the first n samples without removing them.
// The view is invalidated by the next Push, Pop or Clear.
func (b *Buffer) FrontBlock(n int) []int16 {
	if n < 0 || n > b.size {
		b.log.WithFields(logrus.Fields{"block": n, "held": b.size}).Warn("Front block larger than buffered samples")
		return nil
	}
	return b.samples[:n:n]
}

// Pop removes the first n samples and moves the remainder to the front.
// Popping more than Size is logged and ignored.
func (b *Buffer) Pop(n int) {
	if n < 0 || n > b.size {
		b.log.WithFields(logrus.Fields{"block": n, "held": b.size}).Warn("Pop larger than buffered samples, ignoring")
		return
	}

	copy(b.samples, b.samples[n:b.size])
	b.size -= n
}

// Clear empties the buffer
func (b *Buffer) Clear() {
	b.size = 0
}
