package libav

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelLayout(t *testing.T) {
	_, err := channelLayout(1)
	assert.NoError(t, err)
	_, err = channelLayout(2)
	assert.NoError(t, err)
	_, err = channelLayout(6)
	assert.Error(t, err)
}

func TestEncodeBeforeConfigure(t *testing.T) {
	_, _, err := NewH264Encoder(nil).Encode(nil, 0)
	assert.ErrorIs(t, err, ErrEncoderClosed)

	_, err = NewAACEncoder(nil).Encode(make([]int16, 1024))
	assert.ErrorIs(t, err, ErrEncoderClosed)

	assert.NoError(t, NewH264Encoder(nil).Close())
	assert.NoError(t, NewAACEncoder(nil).Close())
}

func TestKeyFramesCarryParameterSets(t *testing.T) {
	e := NewH264Encoder(nil)
	e.sps = []byte{0x67, 0x4d, 0x00, 0x1e}
	e.pps = []byte{0x68, 0xee, 0x3c, 0x80}

	idr := []byte{0, 0, 0, 1, 0x65, 0x88, 0x84}
	assert.Equal(t, []byte{
		0, 0, 0, 1, 0x67, 0x4d, 0x00, 0x1e,
		0, 0, 0, 1, 0x68, 0xee, 0x3c, 0x80,
		0, 0, 0, 1, 0x65, 0x88, 0x84,
	}, e.withParameterSets(idr))

	inBand := []byte{0, 0, 0, 1, 0x67, 0x4d, 0, 0, 0, 1, 0x65, 0x88}
	assert.Equal(t, inBand, e.withParameterSets(inBand))
}
