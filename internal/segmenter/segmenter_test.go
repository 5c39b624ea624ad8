package segmenter

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rapidcast/internal/metrics"
	"rapidcast/internal/storage"
	"rapidcast/pkg/models"
)

var (
	testVideo = &models.CodecInfo{
		Codec:     "h264",
		SPS:       []byte{0x67, 0x4d, 0x00, 0x1e, 0xab, 0x40},
		PPS:       []byte{0x68, 0xee, 0x3c, 0x80},
		Width:     640,
		Height:    480,
		FrameRate: 25,
	}
	testAudio = &models.CodecInfo{
		Codec:       "aac",
		AudioConfig: []byte{0x12, 0x08},
		SampleRate:  44100,
		Channels:    1,
		FrameSize:   1024,
	}
)

func idr() []byte   { return []byte{0, 0, 0, 1, 0x65, 0x88, 0x84, 0x21} }
func inter() []byte { return []byte{0, 0, 0, 1, 0x41, 0x9a, 0x02} }

func newRecorder(t *testing.T, cfg Config) (*Recorder, storage.Storage, *metrics.Metrics) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	log, _ := logtest.NewNullLogger()
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	return NewRecorder(store, cfg, log, m), store, m
}

// writeVideo writes frames every 40ms from 0 up to (not including) endMs
// with a keyframe every keyEvery frames, and an audio packet after each frame.
func writeVideo(t *testing.T, r *Recorder, endMs int64, keyEvery int) {
	t.Helper()
	for i := 0; int64(i)*40 < endMs; i++ {
		ts := int64(i) * 40
		key := i%keyEvery == 0
		payload := inter()
		if key {
			payload = idr()
		}
		require.NoError(t, r.WritePacket(&models.EncodedPacket{
			Stream: models.StreamVideo, Timestamp: ts, KeyFrame: key, Payload: payload,
		}))
		require.NoError(t, r.WritePacket(&models.EncodedPacket{
			Stream: models.StreamAudio, Timestamp: ts, KeyFrame: true, Payload: []byte{0x21, 0x10, 0x04},
		}))
	}
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		url  string
		name string
	}{
		{"hls://live", "live"},
		{"hls://live/cam1", "live/cam1"},
		{"hls://rec_2024-01/", "rec_2024-01"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			name, err := ParseURL(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.name, name)
		})
	}

	for _, bad := range []string{"rtmp://live", "hls://", "hls://a/../b", "hls://a b"} {
		_, err := ParseURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestGeneratePlaylist(t *testing.T) {
	p := &models.Playlist{Name: "live", TargetDuration: 2, MaxSegments: 3}
	p.AddSegment(&models.Segment{SequenceNum: 0, Duration: 2, FilePath: "live/segment_0.ts"})
	p.AddSegment(&models.Segment{SequenceNum: 1, Duration: 1.5, FilePath: "live/segment_1.ts"})

	text := GeneratePlaylist(p)
	assert.Equal(t, "#EXTM3U\n"+
		"#EXT-X-VERSION:3\n"+
		"#EXT-X-TARGETDURATION:2\n"+
		"#EXT-X-MEDIA-SEQUENCE:0\n"+
		"#EXTINF:2.000,\nsegment_0.ts\n"+
		"#EXTINF:1.500,\nsegment_1.ts\n", text)

	p.Ended = true
	assert.True(t, strings.HasSuffix(GeneratePlaylist(p), "#EXT-X-ENDLIST\n"))
	assert.NotContains(t, GeneratePlaylist(p), "PLAYLIST-TYPE")

	p.MaxSegments = 0
	assert.Contains(t, GeneratePlaylist(p), "#EXT-X-PLAYLIST-TYPE:VOD\n")
}

func TestRecorderCutsOnKeyFrames(t *testing.T) {
	r, store, m := newRecorder(t, Config{SegmentDuration: 2 * time.Second})

	require.NoError(t, r.OpenOutput(context.Background(), "hls://live"))
	require.NoError(t, r.WriteHeader(testVideo, testAudio))

	// keyframes at 0, 2000 and 4000
	writeVideo(t, r, 6000, 50)
	require.NoError(t, r.WriteTrailer())
	require.NoError(t, r.CloseOutput())

	p := r.playlistSnapshot()
	require.Len(t, p.Segments, 3)
	assert.InDelta(t, 2.0, p.Segments[0].Duration, 1e-9)
	assert.InDelta(t, 2.0, p.Segments[1].Duration, 1e-9)
	assert.InDelta(t, 1.96, p.Segments[2].Duration, 1e-9)
	assert.True(t, p.Ended)

	files, err := store.List("live")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"segment_0.ts", "segment_1.ts", "segment_2.ts", "index.m3u8"}, files)

	playlist, err := store.Read("live/index.m3u8")
	require.NoError(t, err)
	text := string(playlist)
	assert.Contains(t, text, "#EXT-X-TARGETDURATION:2\n")
	assert.Contains(t, text, "#EXTINF:2.000,\nsegment_0.ts\n")
	assert.Contains(t, text, "#EXTINF:1.960,\nsegment_2.ts\n")
	assert.True(t, strings.HasSuffix(text, "#EXT-X-ENDLIST\n"))

	assert.Equal(t, float64(3), testutil.ToFloat64(m.SegmentsCreated))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutputConnections.WithLabelValues("hls")))
}

func TestRecorderSegmentsStartWithKeyFrame(t *testing.T) {
	r, store, _ := newRecorder(t, Config{SegmentDuration: time.Second})

	require.NoError(t, r.OpenOutput(context.Background(), "hls://live"))
	require.NoError(t, r.WriteHeader(testVideo, nil))

	// a frame before the first keyframe is skipped
	require.NoError(t, r.WritePacket(&models.EncodedPacket{
		Stream: models.StreamVideo, Timestamp: 0, Payload: inter(),
	}))
	for i := 1; i <= 60; i++ {
		ts := int64(i) * 40
		key := i%25 == 1
		payload := inter()
		if key {
			payload = idr()
		}
		require.NoError(t, r.WritePacket(&models.EncodedPacket{
			Stream: models.StreamVideo, Timestamp: ts, KeyFrame: key, Payload: payload,
		}))
	}
	require.NoError(t, r.WriteTrailer())

	p := r.playlistSnapshot()
	require.Len(t, p.Segments, 3)

	for _, seg := range p.Segments {
		data, err := store.Read(seg.FilePath)
		require.NoError(t, err)
		assert.Zero(t, len(data)%188)

		tr := &mpegts.Reader{R: bytes.NewReader(data)}
		require.NoError(t, tr.Initialize())
		require.Len(t, tr.Tracks(), 1)

		track := tr.Tracks()[0]
		require.IsType(t, &mpegts.CodecH264{}, track.Codec)

		var first [][]byte
		tr.OnDataH264(track, func(_ int64, _ int64, au [][]byte) error {
			if first == nil {
				first = au
			}
			return nil
		})
		for tr.Read() == nil {
		}
		require.NotEmpty(t, first, "segment %d", seg.SequenceNum)

		var types []byte
		for _, nalu := range first {
			types = append(types, nalu[0]&0x1F)
		}
		assert.Contains(t, types, byte(5), "segment %d", seg.SequenceNum)
		assert.Contains(t, types, byte(7), "segment %d", seg.SequenceNum)
	}
}

func TestRecorderSlidingWindow(t *testing.T) {
	r, store, m := newRecorder(t, Config{SegmentDuration: 2 * time.Second, MaxSegments: 2})

	require.NoError(t, r.OpenOutput(context.Background(), "hls://live"))
	require.NoError(t, r.WriteHeader(testVideo, testAudio))
	writeVideo(t, r, 6000, 50)
	require.NoError(t, r.WriteTrailer())

	p := r.playlistSnapshot()
	require.Len(t, p.Segments, 2)
	assert.Equal(t, uint64(1), p.MediaSequence)

	ok, err := store.Exists("live/segment_0.ts")
	require.NoError(t, err)
	assert.False(t, ok)

	playlist, err := store.Read("live/index.m3u8")
	require.NoError(t, err)
	assert.Contains(t, string(playlist), "#EXT-X-MEDIA-SEQUENCE:1\n")
	assert.NotContains(t, string(playlist), "segment_0.ts")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.SegmentsStored))
}

func TestRecorderAudioOnly(t *testing.T) {
	r, _, _ := newRecorder(t, Config{SegmentDuration: time.Second})

	require.NoError(t, r.OpenOutput(context.Background(), "hls://radio"))
	require.NoError(t, r.WriteHeader(nil, testAudio))

	for i := 0; i < 100; i++ {
		require.NoError(t, r.WritePacket(&models.EncodedPacket{
			Stream: models.StreamAudio, Timestamp: int64(i) * 23, KeyFrame: true, Payload: []byte{0x21, 0x10, 0x04},
		}))
	}
	require.NoError(t, r.WriteTrailer())

	// cuts at 1012 and 2024
	p := r.playlistSnapshot()
	require.Len(t, p.Segments, 3)
	assert.InDelta(t, 1.012, p.Segments[0].Duration, 1e-9)
}

func TestRecorderNotOpen(t *testing.T) {
	r, _, _ := newRecorder(t, DefaultConfig())

	assert.ErrorIs(t, r.WriteHeader(testVideo, nil), ErrNotOpen)
	assert.ErrorIs(t, r.WritePacket(&models.EncodedPacket{}), ErrNotOpen)
	assert.ErrorIs(t, r.WriteTrailer(), ErrNotOpen)
	assert.Error(t, r.OpenOutput(context.Background(), "srt://host:9000"))
}
