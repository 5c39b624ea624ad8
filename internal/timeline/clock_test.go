package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAudioTimestamps(t *testing.T) {
	c := New(44100, 30, true)

	assert.Equal(t, int64(23), c.AdvanceAudio(1024))
	assert.Equal(t, int64(46), c.AdvanceAudio(1024))
	assert.Equal(t, int64(2048), c.SamplesWritten())
	assert.Equal(t, int64(46), c.AudioTimestamp())
}

func TestAudioTimestampFormula(t *testing.T) {
	const frameSize, rate = 1024, 44100
	c := New(rate, 30, true)

	prev := int64(0)
	for k := int64(1); k <= 5000; k++ {
		ts := c.AdvanceAudio(frameSize)
		assert.Equal(t, k*frameSize*1000/rate, ts)
		assert.GreaterOrEqual(t, ts, prev)
		prev = ts
	}
}

func TestVideoFollowsAudio(t *testing.T) {
	c := New(48000, 30, true)

	assert.Equal(t, int64(0), c.NextVideoFrame())
	assert.Equal(t, int64(0), c.VideoTimestamp())

	c.AdvanceAudio(1024)
	assert.Equal(t, int64(1), c.NextVideoFrame())
	assert.Equal(t, int64(21), c.VideoTimestamp())
	assert.Equal(t, int64(2), c.NextVideoFrame())
	assert.Equal(t, int64(21), c.VideoTimestamp())
	assert.Equal(t, int64(3), c.videoFrames)
}

func TestVideoWithoutAudio(t *testing.T) {
	c := New(44100, 25, false)

	assert.Equal(t, int64(0), c.VideoTimestamp())
	c.NextVideoFrame()
	assert.Equal(t, int64(0), c.VideoTimestamp())
	c.NextVideoFrame()
	assert.Equal(t, int64(40), c.VideoTimestamp())
	c.NextVideoFrame()
	assert.Equal(t, int64(80), c.VideoTimestamp())
}

func TestReset(t *testing.T) {
	c := New(44100, 30, true)
	c.NextVideoFrame()
	c.AdvanceAudio(4096)

	c.Reset()

	assert.Equal(t, int64(0), c.videoFrames)
	assert.Equal(t, int64(0), c.SamplesWritten())
	assert.Equal(t, int64(0), c.AudioTimestamp())
}

func TestAdvanceAudioIgnoresEmptyBlocks(t *testing.T) {
	c := New(44100, 30, true)
	c.AdvanceAudio(1024)

	assert.Equal(t, int64(23), c.AdvanceAudio(0))
	assert.Equal(t, int64(1024), c.SamplesWritten())
}

func TestMultiplyAndDivide(t *testing.T) {
	assert.Equal(t, int64(90000), MultiplyAndDivide(1000, 90, 1))
	assert.Equal(t, int64(23), MultiplyAndDivide(1024, 1000, 44100))
	assert.Equal(t, int64(1<<62/1000*90), MultiplyAndDivide(1<<62/1000, 90, 1))
}
