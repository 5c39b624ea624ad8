package srt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rapidcast/internal/metrics"
	"rapidcast/pkg/models"
)

type memConn struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func (c *memConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (c *memConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestParseURL(t *testing.T) {
	target, err := ParseURL("srt://ingest.example.com:9000?streamid=publish:live/abc&latency=200", DefaultLatency)
	require.NoError(t, err)
	assert.Equal(t, "ingest.example.com:9000", target.Addr)
	assert.Equal(t, "publish:live/abc", target.StreamID)
	assert.Equal(t, 200*time.Millisecond, target.Latency)

	target, err = ParseURL("srt://127.0.0.1:9000", DefaultLatency)
	require.NoError(t, err)
	assert.Equal(t, "", target.StreamID)
	assert.Equal(t, DefaultLatency, target.Latency)

	for _, raw := range []string{"rtmp://host:9000", "srt://host", "srt://host:9000?latency=abc"} {
		_, err := ParseURL(raw, DefaultLatency)
		assert.Error(t, err, raw)
	}
}

func TestPacketWriterChunks(t *testing.T) {
	var conn memConn
	w := &packetWriter{w: &conn}

	n, err := w.Write(make([]byte, PayloadSize*2+100))
	require.NoError(t, err)
	assert.Equal(t, PayloadSize*2+100, n)

	require.Len(t, conn.writes, 3)
	assert.Len(t, conn.writes[0], PayloadSize)
	assert.Len(t, conn.writes[1], PayloadSize)
	assert.Len(t, conn.writes[2], 100)
}

func TestSenderWritesTransportStream(t *testing.T) {
	conn := &memConn{}
	var dialed *Target
	log, _ := logtest.NewNullLogger()
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	s := NewSender(log, m, WithDialer(func(target *Target) (io.WriteCloser, error) {
		dialed = target
		return conn, nil
	}))

	require.NoError(t, s.OpenOutput(context.Background(), "srt://127.0.0.1:9000?streamid=live/test"))
	require.Equal(t, "live/test", dialed.StreamID)
	require.Equal(t, DefaultLatency, dialed.Latency)

	video := &models.CodecInfo{SPS: []byte{0x67, 0x4d, 0x00, 0x1e}, PPS: []byte{0x68, 0xee}}
	audio := &models.CodecInfo{AudioConfig: []byte{0x12, 0x08}}
	require.NoError(t, s.WriteHeader(video, audio))

	idr := append([]byte{0, 0, 0, 1, 0x65}, bytes.Repeat([]byte{0x88}, 4000)...)
	require.NoError(t, s.WritePacket(&models.EncodedPacket{Stream: models.StreamVideo, KeyFrame: true, Payload: idr}))
	require.NoError(t, s.WritePacket(&models.EncodedPacket{Stream: models.StreamAudio, Timestamp: 23, Payload: []byte{0x21, 0x10}}))
	require.NoError(t, s.WriteTrailer())

	conn.mu.Lock()
	total := 0
	for _, w := range conn.writes {
		assert.LessOrEqual(t, len(w), PayloadSize)
		assert.Zero(t, len(w)%188)
		assert.Equal(t, byte(0x47), w[0])
		total += len(w)
	}
	conn.mu.Unlock()
	assert.Greater(t, total, 4000)
	assert.Equal(t, float64(total), testutil.ToFloat64(m.OutputBytes.WithLabelValues("srt")))

	require.NoError(t, s.CloseOutput())
	assert.True(t, conn.closed)
	assert.ErrorIs(t, s.WritePacket(&models.EncodedPacket{}), ErrNotConnected)
}

func TestSenderDialError(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	s := NewSender(nil, m, WithDialer(func(*Target) (io.WriteCloser, error) {
		return nil, errors.New("connection rejected")
	}))

	err := s.OpenOutput(context.Background(), "srt://127.0.0.1:9000")
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutputErrors.WithLabelValues("srt")))
}

func TestSenderDialCancelled(t *testing.T) {
	release := make(chan struct{})
	conn := &memConn{}
	s := NewSender(nil, nil, WithDialer(func(*Target) (io.WriteCloser, error) {
		<-release
		return conn, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.OpenOutput(ctx, "srt://127.0.0.1:9000")
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	assert.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.closed
	}, time.Second, 5*time.Millisecond)
}

func TestSenderNotConnected(t *testing.T) {
	s := NewSender(nil, nil)
	assert.ErrorIs(t, s.WriteHeader(&models.CodecInfo{}, nil), ErrNotConnected)
	assert.ErrorIs(t, s.WriteTrailer(), ErrNotConnected)
	assert.NoError(t, s.CloseOutput())
}
