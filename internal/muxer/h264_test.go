package muxer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSPS = []byte{0x67, 0x4d, 0x00, 0x1e, 0xab, 0x40}
	testPPS = []byte{0x68, 0xee, 0x3c, 0x80}
	testIDR = []byte{0x65, 0x88, 0x84, 0x21}
	testP   = []byte{0x41, 0x9a, 0x02}
)

func TestConvertAVCCToAnnexB(t *testing.T) {
	avcc := []byte{0, 0, 0, 4}
	avcc = append(avcc, testIDR...)
	avcc = append(avcc, 0, 0, 0, 3)
	avcc = append(avcc, testP...)

	annexB, err := ConvertAVCCToAnnexB(avcc)
	require.NoError(t, err)

	want := append(append([]byte{}, StartCode4...), testIDR...)
	want = append(want, StartCode3...)
	want = append(want, testP...)
	assert.Equal(t, want, annexB)
}

func TestConvertAVCCToAnnexBErrors(t *testing.T) {
	_, err := ConvertAVCCToAnnexB(nil)
	assert.Error(t, err)

	_, err = ConvertAVCCToAnnexB([]byte{0, 0, 0, 9, 0x65})
	assert.Error(t, err)
}

func TestConvertAnnexBToAVCCDropsParameterSets(t *testing.T) {
	annexB := PrependSPSPPSAnnexB(append(append([]byte{}, StartCode4...), testIDR...), [][]byte{testSPS}, [][]byte{testPPS})

	avcc, err := ConvertAnnexBToAVCC(annexB)
	require.NoError(t, err)

	want := append([]byte{0, 0, 0, 4}, testIDR...)
	assert.Equal(t, want, avcc)
}

func TestConvertAnnexBToAVCCWithoutPicture(t *testing.T) {
	annexB := PrependSPSPPSAnnexB(nil, [][]byte{testSPS}, [][]byte{testPPS})
	_, err := ConvertAnnexBToAVCC(annexB)
	assert.Error(t, err)
}

func TestExtractSPSandPPS(t *testing.T) {
	annexB := PrependSPSPPSAnnexB(nil, [][]byte{testSPS}, [][]byte{testPPS})

	sps, pps, err := ExtractSPSandPPS(annexB)
	require.NoError(t, err)
	assert.Equal(t, testSPS, sps)
	assert.Equal(t, testPPS, pps)

	avcc := append([]byte{0, 0, 0, byte(len(testSPS))}, testSPS...)
	avcc = append(avcc, 0, 0, 0, byte(len(testPPS)))
	avcc = append(avcc, testPPS...)

	sps, pps, err = ExtractSPSandPPS(avcc)
	require.NoError(t, err)
	assert.Equal(t, testSPS, sps)
	assert.Equal(t, testPPS, pps)
}

func TestExtractSPSandPPSFromRecord(t *testing.T) {
	record, err := NewAVCDecoderConfigurationRecord(testSPS, testPPS)
	require.NoError(t, err)

	sps, pps, err := ExtractSPSandPPS(record.Marshal())
	require.NoError(t, err)
	assert.Equal(t, testSPS, sps)
	assert.Equal(t, testPPS, pps)

	_, _, err = ExtractSPSandPPS([]byte{0x01, 0x4d, 0x00})
	assert.Error(t, err)
}

func TestExtractSPSandPPSMissing(t *testing.T) {
	_, _, err := ExtractSPSandPPS(append(append([]byte{}, StartCode4...), testIDR...))
	assert.Error(t, err)
}

func TestHasParameterSets(t *testing.T) {
	assert.True(t, HasParameterSets([][]byte{testSPS, testPPS, testIDR}))
	assert.False(t, HasParameterSets([][]byte{testIDR}))
}

func TestSplitAnnexB(t *testing.T) {
	annexB := PrependSPSPPSAnnexB(append(append([]byte{}, StartCode3...), testP...), [][]byte{testSPS}, [][]byte{testPPS})

	nalus, err := SplitAnnexB(annexB)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{testSPS, testPPS, testP}, nalus)
}
