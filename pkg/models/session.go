package models

import (
	"sync"
	"time"
)

// SessionState represents where a session is in its lifecycle
type SessionState string

const (
	SessionStateUnopened SessionState = "unopened"
	SessionStateOpen     SessionState = "open"
	SessionStateClosed   SessionState = "closed"
)

// SessionInfo is the registry record of a running or finished session
type SessionInfo struct {
	ID         string       // Session ID
	OutputURL  string       // Where the muxed stream goes
	State      SessionState // Current state
	StartedAt  time.Time    // When the session opened
	StoppedAt  *time.Time   // When the session closed (if closed)
	VideoCodec *CodecInfo   // Video codec information
	AudioCodec *CodecInfo   // Audio codec information

	// Stats
	Stats SessionStats

	mu sync.RWMutex // Protects concurrent access
}

// SessionStats tracks session statistics
type SessionStats struct {
	VideoFramesIn      uint64    `json:"videoFramesIn"`      // Raw video frames submitted
	AudioSamplesIn     uint64    `json:"audioSamplesIn"`     // Raw audio samples submitted
	VideoPackets       uint64    `json:"videoPackets"`       // Video packets muxed
	AudioPackets       uint64    `json:"audioPackets"`       // Audio packets muxed
	KeyFrames          uint64    `json:"keyFrames"`          // Video keyframes muxed
	BytesOut           uint64    `json:"bytesOut"`           // Compressed bytes handed to the muxer
	NoOutput           uint64    `json:"noOutput"`           // Encode calls that produced nothing yet
	EncodeFailures     uint64    `json:"encodeFailures"`     // Encoder errors
	DroppedAudioChunks uint64    `json:"droppedAudioChunks"` // Chunks rejected by the audio buffer
	MuxErrors          uint64    `json:"muxErrors"`          // Packets the muxer failed to write
	BufferedSamples    int       `json:"bufferedSamples"`    // Audio samples waiting for a full block
	LastTimestamp      int64     `json:"lastTimestamp"`      // Most recent audio timestamp (ms)
	LastPacketTime     time.Time `json:"lastPacketTime"`     // Wall time of the last muxed packet
}

// RecordPacket updates statistics for a muxed packet
func (s *SessionInfo) RecordPacket(pkt *EncodedPacket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pkt.Stream == StreamVideo {
		s.Stats.VideoPackets++
		if pkt.KeyFrame {
			s.Stats.KeyFrames++
		}
	} else {
		s.Stats.AudioPackets++
		s.Stats.LastTimestamp = pkt.Timestamp
	}
	s.Stats.BytesOut += uint64(len(pkt.Payload))
	s.Stats.LastPacketTime = time.Now()
}

// RecordInput updates the raw input counters
func (s *SessionInfo) RecordInput(stream StreamID, samples int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stream == StreamVideo {
		s.Stats.VideoFramesIn++
		return
	}
	s.Stats.AudioSamplesIn += uint64(samples)
}

// RecordNoOutput counts an encode call that produced no packet
func (s *SessionInfo) RecordNoOutput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stats.NoOutput++
}

// RecordEncodeFailure counts an encoder error
func (s *SessionInfo) RecordEncodeFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stats.EncodeFailures++
}

// RecordDroppedChunk counts an audio chunk rejected by the buffer
func (s *SessionInfo) RecordDroppedChunk() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stats.DroppedAudioChunks++
}

// SetBufferedSamples records the audio buffer fill level
func (s *SessionInfo) SetBufferedSamples(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stats.BufferedSamples = n
}

// RecordMuxError counts a packet the muxer failed to write
func (s *SessionInfo) RecordMuxError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stats.MuxErrors++
}

// SetOpened stores the output and the negotiated codec parameters
func (s *SessionInfo) SetOpened(outputURL string, video, audio *CodecInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OutputURL = outputURL
	s.VideoCodec = video
	s.AudioCodec = audio
}

// SetState safely updates the session state
func (s *SessionInfo) SetState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = state

	if state == SessionStateOpen && s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	} else if state == SessionStateClosed {
		now := time.Now()
		s.StoppedAt = &now
	}
}

// GetState safely returns the session state
func (s *SessionInfo) GetState() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

// Snapshot returns a copy of the statistics
func (s *SessionInfo) Snapshot() SessionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Stats
}

// Codecs returns the negotiated codec parameters
func (s *SessionInfo) Codecs() (video, audio *CodecInfo) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.VideoCodec, s.AudioCodec
}

// Output returns the output URL
func (s *SessionInfo) Output() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.OutputURL
}

// Times returns the start and stop times
func (s *SessionInfo) Times() (started time.Time, stopped *time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.StartedAt, s.StoppedAt
}
