package session

import (
	"github.com/sirupsen/logrus"

	"rapidcast/internal/audiobuf"
	"rapidcast/internal/timeline"
	"rapidcast/pkg/models"
)

// audioPath re-blocks PCM chunks and encodes every full block
type audioPath struct {
	enc       AudioEncoder
	buf       *audiobuf.Buffer
	clock     *timeline.Clock
	frameSize int // samples per channel in one block
	channels  int
	sink      func(*models.EncodedPacket) error
	log       logrus.FieldLogger
}

func (p *audioPath) encode(samples []int16) AudioResult {
	var res AudioResult

	if err := p.buf.Push(samples); err != nil {
		res.Dropped = true
		return res
	}

	block := p.frameSize * p.channels
	for p.buf.Size() >= block {
		payload, err := p.enc.Encode(p.buf.FrontBlock(block))
		if err != nil {
			p.log.WithError(err).WithField("samples_written", p.clock.SamplesWritten()).Error("Audio encode failed, dropping block")
			res.Failures++
			p.buf.Pop(block)
			continue
		}

		ts := p.clock.AdvanceAudio(p.frameSize)
		res.Blocks++

		if len(payload) == 0 {
			res.NoOutput++
			p.buf.Pop(block)
			continue
		}

		pkt := &models.EncodedPacket{
			Stream:    models.StreamAudio,
			Timestamp: ts,
			KeyFrame:  true,
			Payload:   payload,
		}
		if err := p.sink(pkt); err != nil {
			res.MuxErrors++
		}
		res.Bytes += len(payload)
		res.Packets++

		p.buf.Pop(block)
	}

	return res
}
