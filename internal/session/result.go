package session

import "rapidcast/pkg/models"

// Outcome tags what a single encode call achieved
type Outcome int

const (
	// NoOutputYet means the encoder accepted the input but has nothing to emit.
	NoOutputYet Outcome = iota
	// Produced means a packet was built and handed to the muxer.
	Produced
	// Failed means the input could not be encoded.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case NoOutputYet:
		return "no-output-yet"
	case Produced:
		return "produced"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is returned by EncodeVideoFrame
type Result struct {
	Outcome Outcome
	Packet  *models.EncodedPacket // set when Produced
	Err     error                 // set when Failed
	MuxErr  error                 // set when Produced but the muxer rejected the packet
}

// Bytes reports the compressed size: positive when a packet was produced,
// zero when the encoder is still buffering and -1 on failure.
func (r Result) Bytes() int {
	switch r.Outcome {
	case Produced:
		return len(r.Packet.Payload)
	case Failed:
		return -1
	default:
		return 0
	}
}

// AudioResult summarizes one EncodeAudioChunk call
type AudioResult struct {
	Bytes     int  // compressed bytes across all blocks
	Blocks    int  // blocks the encoder accepted
	Packets   int  // packets handed to the muxer
	NoOutput  int  // accepted blocks that produced nothing yet
	Failures  int  // blocks the encoder rejected
	MuxErrors int  // packets the muxer rejected
	Dropped   bool // the chunk was dropped on buffer overflow
}
