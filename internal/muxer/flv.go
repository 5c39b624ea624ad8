package muxer

import (
	"bytes"
	"fmt"

	flvtag "github.com/yutopp/go-flv/tag"
)

// VideoTagBody builds the body of an FLV video tag carrying H.264
func VideoTagBody(keyFrame bool, packetType flvtag.AVCPacketType, compositionTime int32, data []byte) ([]byte, error) {
	frameType := flvtag.FrameTypeInterFrame
	if keyFrame {
		frameType = flvtag.FrameTypeKeyFrame
	}

	var buf bytes.Buffer
	buf.Grow(5 + len(data))
	if err := flvtag.EncodeVideoData(&buf, &flvtag.VideoData{
		FrameType:       frameType,
		CodecID:         flvtag.CodecIDAVC,
		AVCPacketType:   packetType,
		CompositionTime: compositionTime,
		Data:            bytes.NewReader(data),
	}); err != nil {
		return nil, fmt.Errorf("failed to encode video tag: %w", err)
	}
	return buf.Bytes(), nil
}

// AudioTagBody builds the body of an FLV audio tag carrying AAC. The sound
// rate and type bits are fixed to 44 kHz stereo as FLV requires for AAC;
// decoders take the real values from the AudioSpecificConfig.
func AudioTagBody(packetType flvtag.AACPacketType, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(2 + len(data))
	if err := flvtag.EncodeAudioData(&buf, &flvtag.AudioData{
		SoundFormat:   flvtag.SoundFormatAAC,
		SoundRate:     flvtag.SoundRate44kHz,
		SoundSize:     flvtag.SoundSize16Bit,
		SoundType:     flvtag.SoundTypeStereo,
		AACPacketType: packetType,
		Data:          bytes.NewReader(data),
	}); err != nil {
		return nil, fmt.Errorf("failed to encode audio tag: %w", err)
	}
	return buf.Bytes(), nil
}
