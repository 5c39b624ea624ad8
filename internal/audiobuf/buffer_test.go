package audiobuf

import (
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(start, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(start + i)
	}
	return out
}

func TestPushPopOrder(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	b := New(64, log)

	require.NoError(t, b.Push(ramp(0, 10)))
	require.NoError(t, b.Push(ramp(10, 5)))
	assert.Equal(t, 15, b.Size())

	assert.Equal(t, ramp(0, 4), b.FrontBlock(4))
	b.Pop(4)
	assert.Equal(t, 11, b.Size())
	assert.Equal(t, ramp(4, 11), b.FrontBlock(11))
}

func TestFIFOProperty(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	b := New(4096, log)
	rng := rand.New(rand.NewSource(1))

	var pushed, popped []int16
	next := 0
	for i := 0; i < 500; i++ {
		n := rng.Intn(700)
		if b.Size()+n <= b.Capacity() {
			chunk := ramp(next, n)
			require.NoError(t, b.Push(chunk))
			pushed = append(pushed, chunk...)
			next += n
		}

		if b.Size() > 0 {
			k := rng.Intn(b.Size() + 1)
			popped = append(popped, b.FrontBlock(k)...)
			b.Pop(k)
		}
	}

	require.LessOrEqual(t, len(popped), len(pushed))
	assert.Equal(t, pushed[:len(popped)], popped)
	assert.Equal(t, len(pushed)-len(popped), b.Size())
}

func TestReblocking(t *testing.T) {
	const frameSize = 1024
	log, _ := logtest.NewNullLogger()
	b := New(DefaultCapacity, log)
	rng := rand.New(rand.NewSource(7))

	total, blocks := 0, 0
	for i := 0; i < 300; i++ {
		n := 1 + rng.Intn(3000)
		require.NoError(t, b.Push(make([]int16, n)))
		total += n
		for b.Size() >= frameSize {
			require.Len(t, b.FrontBlock(frameSize), frameSize)
			b.Pop(frameSize)
			blocks++
		}
	}

	assert.Equal(t, total/frameSize, blocks)
	assert.Equal(t, total%frameSize, b.Size())
}

func TestScenario800SampleChunks(t *testing.T) {
	const frameSize = 1024
	log, _ := logtest.NewNullLogger()
	b := New(DefaultCapacity, log)

	drain := func() int {
		n := 0
		for b.Size() >= frameSize {
			b.Pop(frameSize)
			n++
		}
		return n
	}

	require.NoError(t, b.Push(make([]int16, 800)))
	assert.Equal(t, 0, drain())
	require.NoError(t, b.Push(make([]int16, 800)))
	assert.Equal(t, 1, drain())
	assert.Equal(t, 576, b.Size())
	require.NoError(t, b.Push(make([]int16, 800)))
	assert.Equal(t, 1, drain())
	assert.Equal(t, 352, b.Size())
}

func TestOverflowRejectsWholeChunk(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	b := New(16384, log)

	require.NoError(t, b.Push(ramp(0, 16000)))
	err := b.Push(ramp(16000, 500))

	assert.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, 16000, b.Size())
	assert.Equal(t, ramp(0, 16000), b.FrontBlock(16000))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestPushExactlyToCapacity(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	b := New(100, log)

	require.NoError(t, b.Push(make([]int16, 60)))
	require.NoError(t, b.Push(make([]int16, 40)))
	assert.Equal(t, 100, b.Size())
}

func TestPopTooLargeIsIgnored(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	b := New(100, log)
	require.NoError(t, b.Push(ramp(0, 10)))

	b.Pop(11)

	assert.Equal(t, 10, b.Size())
	assert.Equal(t, ramp(0, 10), b.FrontBlock(10))
	assert.Len(t, hook.Entries, 1)
}

func TestFrontBlockTooLarge(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	b := New(100, log)
	require.NoError(t, b.Push(ramp(0, 3)))

	assert.Nil(t, b.FrontBlock(4))
}

func TestClear(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	b := New(100, log)
	require.NoError(t, b.Push(ramp(0, 50)))

	b.Clear()

	assert.Equal(t, 0, b.Size())
	require.NoError(t, b.Push(ramp(7, 100)))
	assert.Equal(t, ramp(7, 100), b.FrontBlock(100))
}
