// Package timeline keeps the per-session presentation clock shared by the
// video and audio encode paths. Audio is the master clock: video packets
// are stamped with the most recent audio timestamp.
package timeline

// Clock is owned by exactly one session and is not safe for concurrent use.
type Clock struct {
	sampleRate   int
	frameRate    int
	audioEnabled bool

	videoFrames    int64 // frames submitted, also the encoder pts hint
	samplesWritten int64
	lastAudio      int64
}

// New creates a clock. frameRate is only used to stamp video when audio
// is disabled and there is no audio clock to follow.
func New(sampleRate, frameRate int, audioEnabled bool) *Clock {
	return &Clock{
		sampleRate:   sampleRate,
		frameRate:    frameRate,
		audioEnabled: audioEnabled,
	}
}

// Reset zeroes both timelines. Called once when the session opens.
func (c *Clock) Reset() {
	c.videoFrames = 0
	c.samplesWritten = 0
	c.lastAudio = 0
}

// NextVideoFrame returns the encoder hint for the frame being submitted
// and advances the frame counter by one.
func (c *Clock) NextVideoFrame() int64 {
	pts := c.videoFrames
	c.videoFrames++
	return pts
}

// AdvanceAudio accounts for samples handed to the audio encoder and
// returns the new audio timestamp in milliseconds.
func (c *Clock) AdvanceAudio(samples int) int64 {
	if samples <= 0 || c.sampleRate <= 0 {
		return c.lastAudio
	}

	c.samplesWritten += int64(samples)
	c.lastAudio = MultiplyAndDivide(c.samplesWritten, 1000, int64(c.sampleRate))
	return c.lastAudio
}

// AudioTimestamp returns the most recently computed audio timestamp
func (c *Clock) AudioTimestamp() int64 {
	return c.lastAudio
}

// SamplesWritten returns the total samples accounted to the encoder
func (c *Clock) SamplesWritten() int64 {
	return c.samplesWritten
}

// VideoTimestamp returns the timestamp for a video packet encoded now.
// With audio enabled this is the last audio timestamp; without audio the
// frame counter is converted at the configured frame rate.
func (c *Clock) VideoTimestamp() int64 {
	if c.audioEnabled {
		return c.lastAudio
	}
	if c.frameRate <= 0 || c.videoFrames == 0 {
		return 0
	}
	return MultiplyAndDivide(c.videoFrames-1, 1000, int64(c.frameRate))
}

// MultiplyAndDivide computes v*m/d without overflowing on large v
func MultiplyAndDivide(v, m, d int64) int64 {
	secs := v / d
	dec := v % d
	return secs*m + dec*m/d
}
