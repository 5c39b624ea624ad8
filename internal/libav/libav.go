// Package libav implements the session encoders on top of FFmpeg through
// go-astiav. It requires cgo and the libavcodec, libswresample and libx264
// development libraries at build time.
package libav

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/sirupsen/logrus"
)

var ErrEncoderClosed = errors.New("encoder is not configured")

// SetLogLevel maps the logrus level onto FFmpeg's own logging
func SetLogLevel(level logrus.Level) {
	switch {
	case level >= logrus.TraceLevel:
		astiav.SetLogLevel(astiav.LogLevelVerbose)
	case level >= logrus.DebugLevel:
		astiav.SetLogLevel(astiav.LogLevelInfo)
	case level >= logrus.WarnLevel:
		astiav.SetLogLevel(astiav.LogLevelWarning)
	default:
		astiav.SetLogLevel(astiav.LogLevelError)
	}
}

type option struct {
	key, value string
}

func newDictionary(opts []option) (*astiav.Dictionary, error) {
	d := astiav.NewDictionary()
	for _, o := range opts {
		if o.value == "" {
			continue
		}
		if err := d.Set(o.key, o.value, astiav.NewDictionaryFlags()); err != nil {
			d.Free()
			return nil, fmt.Errorf("set %s=%s: %w", o.key, o.value, err)
		}
	}
	return d, nil
}

// packet is an encoder output waiting to be handed out
type packet struct {
	data []byte
	key  bool
}

// drain receives every pending packet from cc into queue
func drain(cc *astiav.CodecContext, pkt *astiav.Packet, queue []packet) ([]packet, error) {
	for {
		if err := cc.ReceivePacket(pkt); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return queue, nil
			}
			return queue, fmt.Errorf("receive packet: %w", err)
		}
		queue = append(queue, packet{
			data: append([]byte(nil), pkt.Data()...),
			key:  pkt.Flags().Has(astiav.PacketFlagKey),
		})
		pkt.Unref()
	}
}
