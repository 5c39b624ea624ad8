package muxer

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// AVCDecoderConfigurationRecord represents the AVC configuration from FLV/RTMP
// This is sent as the first video packet when a stream starts
type AVCDecoderConfigurationRecord struct {
	ConfigurationVersion uint8
	AVCProfileIndication uint8
	ProfileCompatibility uint8
	AVCLevelIndication   uint8
	NALUnitLength        uint8
	SPS                  [][]byte // Sequence Parameter Sets
	PPS                  [][]byte // Picture Parameter Sets
}

// NewAVCDecoderConfigurationRecord builds a record with 4-byte NALU lengths
// from one SPS and one PPS given without start codes.
func NewAVCDecoderConfigurationRecord(sps, pps []byte) (*AVCDecoderConfigurationRecord, error) {
	if len(sps) < 4 {
		return nil, fmt.Errorf("SPS too short: %d bytes", len(sps))
	}
	if len(pps) == 0 {
		return nil, fmt.Errorf("empty PPS")
	}
	return &AVCDecoderConfigurationRecord{
		ConfigurationVersion: 1,
		AVCProfileIndication: sps[1],
		ProfileCompatibility: sps[2],
		AVCLevelIndication:   sps[3],
		NALUnitLength:        4,
		SPS:                  [][]byte{sps},
		PPS:                  [][]byte{pps},
	}, nil
}

// Marshal encodes the record as carried in an FLV sequence header
func (r *AVCDecoderConfigurationRecord) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteByte(r.ConfigurationVersion)
	buf.WriteByte(r.AVCProfileIndication)
	buf.WriteByte(r.ProfileCompatibility)
	buf.WriteByte(r.AVCLevelIndication)
	buf.WriteByte(0xFC | ((r.NALUnitLength - 1) & 0x03))

	buf.WriteByte(0xE0 | uint8(len(r.SPS)&0x1F))
	for _, sps := range r.SPS {
		binary.Write(&buf, binary.BigEndian, uint16(len(sps)))
		buf.Write(sps)
	}

	buf.WriteByte(uint8(len(r.PPS)))
	for _, pps := range r.PPS {
		binary.Write(&buf, binary.BigEndian, uint16(len(pps)))
		buf.Write(pps)
	}
	return buf.Bytes()
}

// ParseAVCDecoderConfigurationRecord parses the AVCC structure from FLV video data
// This is called when we receive a video packet with AVCPacketType = 0 (sequence header)
func ParseAVCDecoderConfigurationRecord(data []byte) (*AVCDecoderConfigurationRecord, error) {
	if len(data) < 11 {
		return nil, fmt.Errorf("data too short for AVCDecoderConfigurationRecord: %d bytes", len(data))
	}

	record := &AVCDecoderConfigurationRecord{}
	r := bytes.NewReader(data)

	header := make([]byte, 5)
	if _, err := r.Read(header); err != nil {
		return nil, err
	}
	record.ConfigurationVersion = header[0]
	record.AVCProfileIndication = header[1]
	record.ProfileCompatibility = header[2]
	record.AVCLevelIndication = header[3]
	// 6 reserved bits + length size minus one
	record.NALUnitLength = (header[4] & 0x03) + 1

	numOfSPS, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if record.SPS, err = readParameterSets(r, int(numOfSPS&0x1F)); err != nil {
		return nil, fmt.Errorf("failed to read SPS: %w", err)
	}

	numOfPPS, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if record.PPS, err = readParameterSets(r, int(numOfPPS)); err != nil {
		return nil, fmt.Errorf("failed to read PPS: %w", err)
	}

	return record, nil
}

func readParameterSets(r *bytes.Reader, count int) ([][]byte, error) {
	sets := make([][]byte, count)
	for i := 0; i < count; i++ {
		var length uint16
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, err
		}
		set := make([]byte, length)
		if n, err := r.Read(set); err != nil || n != int(length) {
			return nil, fmt.Errorf("short parameter set: %d of %d bytes", n, length)
		}
		sets[i] = set
	}
	return sets, nil
}

// PrependSPSPPSAnnexB prepends SPS and PPS to frame data in Annex-B format
func PrependSPSPPSAnnexB(frameData []byte, sps, pps [][]byte) []byte {
	var buf bytes.Buffer

	for _, s := range sps {
		buf.Write(StartCode4)
		buf.Write(s)
	}
	for _, p := range pps {
		buf.Write(StartCode4)
		buf.Write(p)
	}

	// frame data should already be Annex-B
	buf.Write(frameData)
	return buf.Bytes()
}
