package muxer

import (
	"bufio"
	"fmt"
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"rapidcast/pkg/models"
)

// tsBufferSize is a multiple of both the 188-byte TS packet and the
// 1316-byte SRT payload.
const tsBufferSize = 188 * 7 * 48

// switchWriter lets the TS writer move to a new segment file without
// being re-created
type switchWriter struct {
	w io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	if s.w == nil {
		return 0, fmt.Errorf("no output attached")
	}
	return s.w.Write(p)
}

// TSWriter writes session packets as MPEG-TS. Video access units are
// split into NAL units and keyframes carry SPS/PPS in band.
type TSWriter struct {
	out   *switchWriter
	bw    *bufio.Writer
	mw    *mpegts.Writer
	video *mpegts.Track
	audio *mpegts.Track
	sps   []byte
	pps   []byte
}

// NewTSWriter creates a writer with one track per non-nil codec
func NewTSWriter(w io.Writer, video, audio *models.CodecInfo) (*TSWriter, error) {
	if video == nil && audio == nil {
		return nil, fmt.Errorf("no tracks to write")
	}

	t := &TSWriter{out: &switchWriter{w: w}}
	var tracks []*mpegts.Track

	if video != nil {
		t.video = &mpegts.Track{Codec: &mpegts.CodecH264{}}
		t.sps = video.SPS
		t.pps = video.PPS
		tracks = append(tracks, t.video)
	}

	if audio != nil {
		var conf mpeg4audio.AudioSpecificConfig
		if err := conf.Unmarshal(audio.AudioConfig); err != nil {
			return nil, fmt.Errorf("invalid AAC config: %w", err)
		}
		t.audio = &mpegts.Track{Codec: &mpegts.CodecMPEG4Audio{Config: conf}}
		tracks = append(tracks, t.audio)
	}

	t.bw = bufio.NewWriterSize(t.out, tsBufferSize)
	t.mw = &mpegts.Writer{W: t.bw, Tracks: tracks}
	if err := t.mw.Initialize(); err != nil {
		return nil, err
	}
	return t, nil
}

// WritePacket writes one packet and flushes it to the current output
func (t *TSWriter) WritePacket(pkt *models.EncodedPacket) error {
	pts := pkt.Timestamp * 90

	switch pkt.Stream {
	case models.StreamVideo:
		if t.video == nil {
			return fmt.Errorf("no video track")
		}
		au, err := SplitAnnexB(pkt.Payload)
		if err != nil {
			return err
		}
		if pkt.KeyFrame && !HasParameterSets(au) && t.sps != nil && t.pps != nil {
			au = append([][]byte{t.sps, t.pps}, au...)
		}
		if err := t.mw.WriteH264(t.video, pts, pts, au); err != nil {
			return err
		}

	case models.StreamAudio:
		if t.audio == nil {
			return fmt.Errorf("no audio track")
		}
		if err := t.mw.WriteMPEG4Audio(t.audio, pts, [][]byte{pkt.Payload}); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown stream %d", pkt.Stream)
	}

	return t.bw.Flush()
}

// SetOutput flushes pending data and directs further writes to w
func (t *TSWriter) SetOutput(w io.Writer) error {
	err := t.bw.Flush()
	t.out.w = w
	return err
}

// Flush writes buffered data to the current output
func (t *TSWriter) Flush() error {
	return t.bw.Flush()
}
