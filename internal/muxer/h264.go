package muxer

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// H.264 NAL unit types
const (
	NALUnitTypeSPS = 7
	NALUnitTypePPS = 8
	NALUnitTypeIDR = 5
	NALUnitTypeAUD = 9
)

// AnnexB start codes
var (
	// 4-byte start code (used for first NAL or after SPS/PPS)
	StartCode4 = []byte{0x00, 0x00, 0x00, 0x01}
	// 3-byte start code (used for most NALs)
	StartCode3 = []byte{0x00, 0x00, 0x01}
)

// ConvertAVCCToAnnexB converts H.264 from AVCC format (length-prefixed NAL units)
// to Annex-B format (start-code-prefixed NAL units).
//
// AVCC format (used by RTMP/FLV/MP4):
//
//	[4-byte length][NAL unit][4-byte length][NAL unit]...
//
// Annex-B format (used by raw H.264 streams, MPEG-TS):
//
//	[0x00 0x00 0x00 0x01][NAL unit][0x00 0x00 0x00 0x01][NAL unit]...
func ConvertAVCCToAnnexB(avccData []byte) ([]byte, error) {
	if len(avccData) == 0 {
		return nil, fmt.Errorf("empty AVCC data")
	}

	var annexB bytes.Buffer
	offset := 0
	nalCount := 0

	for offset < len(avccData) {
		if offset+4 > len(avccData) {
			break
		}

		nalSize := binary.BigEndian.Uint32(avccData[offset : offset+4])
		offset += 4

		if nalSize == 0 {
			continue
		}
		if offset+int(nalSize) > len(avccData) {
			return nil, fmt.Errorf("invalid NAL size %d at offset %d (exceeds buffer)", nalSize, offset-4)
		}

		nalUnit := avccData[offset : offset+int(nalSize)]
		offset += int(nalSize)

		// 4-byte start code for SPS/PPS/IDR, 3-byte for others
		nalType := nalUnit[0] & 0x1F
		if nalType == NALUnitTypeSPS || nalType == NALUnitTypePPS || nalType == NALUnitTypeIDR {
			annexB.Write(StartCode4)
		} else {
			annexB.Write(StartCode3)
		}

		annexB.Write(nalUnit)
		nalCount++
	}

	if nalCount == 0 {
		return nil, fmt.Errorf("no NAL units found in AVCC data")
	}

	return annexB.Bytes(), nil
}

// SplitAnnexB returns the NAL units of an Annex-B access unit without
// their start codes.
func SplitAnnexB(data []byte) ([][]byte, error) {
	var au h264.AnnexB
	if err := au.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("invalid Annex-B access unit: %w", err)
	}
	return au, nil
}

// ConvertAnnexBToAVCC converts an Annex-B access unit into 4-byte
// length-prefixed NAL units as carried in FLV video tags. Access unit
// delimiters and in-band parameter sets are dropped since RTMP carries
// them in the sequence header.
func ConvertAnnexBToAVCC(data []byte) ([]byte, error) {
	nalus, err := SplitAnnexB(data)
	if err != nil {
		return nil, err
	}

	filtered := nalus[:0]
	for _, nalu := range nalus {
		switch nalu[0] & 0x1F {
		case NALUnitTypeSPS, NALUnitTypePPS, NALUnitTypeAUD:
			continue
		}
		filtered = append(filtered, nalu)
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("access unit carries no picture data")
	}

	return h264.AVCC(filtered).Marshal()
}

// IsAVCCFormat detects if data is in AVCC format by checking for length prefix
func IsAVCCFormat(data []byte) bool {
	if len(data) < 5 {
		return false
	}

	// The first NAL length must fit in the buffer and the fifth byte must
	// look like a NAL header: forbidden bit clear, type 1-21.
	nalSize := binary.BigEndian.Uint32(data[0:4])
	if nalSize > 0 && nalSize < uint32(len(data)) {
		nalHeader := data[4]
		forbiddenBit := (nalHeader >> 7) & 0x01
		nalType := nalHeader & 0x1F
		return forbiddenBit == 0 && nalType >= 1 && nalType <= 21
	}

	return false
}

// IsAnnexBFormat detects if data is in Annex-B format by checking for start codes
func IsAnnexBFormat(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	return bytes.Equal(data[0:4], StartCode4) || bytes.Equal(data[0:3], StartCode3)
}

// ExtractSPSandPPS extracts the first SPS and PPS NAL units, without start
// codes, from an AVCDecoderConfigurationRecord, AVCC or Annex-B data.
func ExtractSPSandPPS(data []byte) (sps, pps []byte, err error) {
	if len(data) > 0 && data[0] == 1 {
		record, err := ParseAVCDecoderConfigurationRecord(data)
		if err != nil {
			return nil, nil, err
		}
		if len(record.SPS) == 0 || len(record.PPS) == 0 {
			return nil, nil, fmt.Errorf("configuration record carries no parameter sets")
		}
		return record.SPS[0], record.PPS[0], nil
	}

	annexBData := data
	if !IsAnnexBFormat(data) && IsAVCCFormat(data) {
		annexBData, err = ConvertAVCCToAnnexB(data)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to convert to Annex-B: %w", err)
		}
	}

	nalus, err := SplitAnnexB(annexBData)
	if err != nil {
		return nil, nil, err
	}
	for _, nalu := range nalus {
		switch nalu[0] & 0x1F {
		case NALUnitTypeSPS:
			if sps == nil {
				sps = nalu
			}
		case NALUnitTypePPS:
			if pps == nil {
				pps = nalu
			}
		}
		if sps != nil && pps != nil {
			return sps, pps, nil
		}
	}

	if sps == nil && pps == nil {
		return nil, nil, fmt.Errorf("no SPS or PPS found in data")
	}
	return sps, pps, nil
}

// HasParameterSets reports whether an access unit carries an SPS
func HasParameterSets(nalus [][]byte) bool {
	for _, nalu := range nalus {
		if len(nalu) > 0 && nalu[0]&0x1F == NALUnitTypeSPS {
			return true
		}
	}
	return false
}
