package models

// StreamID identifies the elementary stream a packet belongs to
type StreamID int

const (
	StreamVideo StreamID = iota
	StreamAudio
)

func (s StreamID) String() string {
	switch s {
	case StreamVideo:
		return "video"
	case StreamAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// EncodedPacket is a compressed unit ready for muxing
type EncodedPacket struct {
	Stream    StreamID // Video or audio
	Timestamp int64    // Presentation timestamp in milliseconds
	KeyFrame  bool     // Decodable without prior packets
	Payload   []byte   // Annex-B access unit (H.264) or raw AAC frame
}

// CodecInfo contains initialization data for a codec
type CodecInfo struct {
	Codec       string  // "h264", "aac"
	SPS         []byte  // H.264 Sequence Parameter Set (video), no start code
	PPS         []byte  // H.264 Picture Parameter Set (video), no start code
	AudioConfig []byte  // AAC AudioSpecificConfig
	Width       int     // Video width
	Height      int     // Video height
	FrameRate   float64 // Video frame rate
	SampleRate  int     // Audio sample rate
	Channels    int     // Audio channels
	FrameSize   int     // Samples per audio block
	Bitrate     int     // Bitrate in bps
}
