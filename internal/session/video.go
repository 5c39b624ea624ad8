package session

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"rapidcast/internal/pixfmt"
	"rapidcast/internal/timeline"
	"rapidcast/pkg/models"
)

// videoPath converts and encodes raw frames
type videoPath struct {
	enc   VideoEncoder
	conv  *pixfmt.Converter
	clock *timeline.Clock
	sink  func(*models.EncodedPacket) error
	log   logrus.FieldLogger
}

func (p *videoPath) encode(raw []byte) Result {
	frame, err := p.conv.Convert(raw)
	if err != nil {
		return Result{Outcome: Failed, Err: err}
	}

	pts := p.clock.NextVideoFrame()
	payload, keyFrame, err := p.enc.Encode(frame, pts)
	if err != nil {
		p.log.WithError(err).WithField("pts", pts).Error("Video encode failed")
		return Result{Outcome: Failed, Err: fmt.Errorf("encode video frame %d: %w", pts, err)}
	}
	if len(payload) == 0 {
		return Result{Outcome: NoOutputYet}
	}

	pkt := &models.EncodedPacket{
		Stream:    models.StreamVideo,
		Timestamp: p.clock.VideoTimestamp(),
		KeyFrame:  keyFrame,
		Payload:   payload,
	}
	return Result{Outcome: Produced, Packet: pkt, MuxErr: p.sink(pkt)}
}
