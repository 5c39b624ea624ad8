package muxer

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	flvtag "github.com/yutopp/go-flv/tag"
)

func TestVideoTagBody(t *testing.T) {
	body, err := VideoTagBody(false, flvtag.AVCPacketTypeNALU, 0x010203, []byte{0xaa})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x27, 0x01, 0x01, 0x02, 0x03, 0xaa}, body)

	body, err = VideoTagBody(true, flvtag.AVCPacketTypeSequenceHeader, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x17, 0x00, 0x00, 0x00, 0x00}, body)

	var video flvtag.VideoData
	require.NoError(t, flvtag.DecodeVideoData(bytes.NewReader(body), &video))
	assert.Equal(t, flvtag.FrameTypeKeyFrame, video.FrameType)
	assert.Equal(t, flvtag.AVCPacketTypeSequenceHeader, video.AVCPacketType)
}

func TestAudioTagBody(t *testing.T) {
	body, err := AudioTagBody(flvtag.AACPacketTypeSequenceHeader, []byte{0x12, 0x08})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaf, 0x00, 0x12, 0x08}, body)

	body, err = AudioTagBody(flvtag.AACPacketTypeRaw, []byte{0x21})
	require.NoError(t, err)

	var audio flvtag.AudioData
	require.NoError(t, flvtag.DecodeAudioData(bytes.NewReader(body), &audio))
	assert.Equal(t, flvtag.SoundFormatAAC, audio.SoundFormat)
	assert.Equal(t, flvtag.AACPacketTypeRaw, audio.AACPacketType)
	data, err := io.ReadAll(audio.Data)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x21}, data)
}
