package muxer

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rapidcast/pkg/models"
)

type memMuxer struct {
	openErr  error
	writeErr error

	url     string
	header  bool
	packets int
	trailer bool
	closed  bool
}

func (m *memMuxer) OpenOutput(_ context.Context, url string) error {
	if m.openErr != nil {
		return m.openErr
	}
	m.url = url
	return nil
}

func (m *memMuxer) WriteHeader(_, _ *models.CodecInfo) error {
	m.header = true
	return nil
}

func (m *memMuxer) WritePacket(*models.EncodedPacket) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.packets++
	return nil
}

func (m *memMuxer) WriteTrailer() error {
	m.trailer = true
	return nil
}

func (m *memMuxer) CloseOutput() error {
	m.closed = true
	return nil
}

func TestTeeFansOut(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	primary, rec := &memMuxer{}, &memMuxer{}
	tee := NewTee(primary, log, Target{Muxer: rec, URL: "hls://rec"})

	require.NoError(t, tee.OpenOutput(context.Background(), "rtmp://host/app/key"))
	require.NoError(t, tee.WriteHeader(&models.CodecInfo{}, nil))
	require.NoError(t, tee.WritePacket(&models.EncodedPacket{}))
	require.NoError(t, tee.WriteTrailer())
	require.NoError(t, tee.CloseOutput())

	assert.Equal(t, "rtmp://host/app/key", primary.url)
	assert.Equal(t, "hls://rec", rec.url)
	for _, m := range []*memMuxer{primary, rec} {
		assert.True(t, m.header)
		assert.Equal(t, 1, m.packets)
		assert.True(t, m.trailer)
		assert.True(t, m.closed)
	}
}

func TestTeeSecondaryOpenFailureClosesPrimary(t *testing.T) {
	primary := &memMuxer{}
	rec := &memMuxer{openErr: errors.New("disk full")}
	tee := NewTee(primary, nil, Target{Muxer: rec, URL: "hls://rec"})

	err := tee.OpenOutput(context.Background(), "rtmp://host/app/key")
	require.Error(t, err)
	assert.True(t, primary.closed)
}

func TestTeeDetachesFailingSecondary(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	primary := &memMuxer{}
	rec := &memMuxer{writeErr: errors.New("write failed")}
	tee := NewTee(primary, log, Target{Muxer: rec, URL: "hls://rec"})

	require.NoError(t, tee.OpenOutput(context.Background(), "srt://host:9000"))
	require.NoError(t, tee.WriteHeader(&models.CodecInfo{}, nil))
	require.NoError(t, tee.WritePacket(&models.EncodedPacket{}))
	require.NoError(t, tee.WritePacket(&models.EncodedPacket{}))

	assert.Equal(t, 2, primary.packets)
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	require.NoError(t, tee.WriteTrailer())
	assert.False(t, rec.trailer)
	require.NoError(t, tee.CloseOutput())
	assert.True(t, rec.closed)
}

func TestTeePrimaryErrorReturned(t *testing.T) {
	primary := &memMuxer{writeErr: errors.New("broken pipe")}
	tee := NewTee(primary, nil)

	require.NoError(t, tee.OpenOutput(context.Background(), "rtmp://host/app/key"))
	assert.Error(t, tee.WritePacket(&models.EncodedPacket{}))
}
