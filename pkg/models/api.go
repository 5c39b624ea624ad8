package models

// SessionView represents session state returned by the API
type SessionView struct {
	ID         string       `json:"id"`
	OutputURL  string       `json:"outputUrl"`
	State      string       `json:"state"`
	Running    bool         `json:"running"`
	Error      string       `json:"error,omitempty"` // why the session ended, if it failed
	StartedAt  string       `json:"startedAt,omitempty"`
	StoppedAt  string       `json:"stoppedAt,omitempty"`
	Duration   int          `json:"duration,omitempty"` // seconds
	VideoCodec string       `json:"videoCodec,omitempty"`
	AudioCodec string       `json:"audioCodec,omitempty"`
	Resolution string       `json:"resolution,omitempty"` // e.g., "1280x720"
	Bitrate    int          `json:"bitrate,omitempty"`
	SampleRate int          `json:"sampleRate,omitempty"`
	Channels   int          `json:"channels,omitempty"`
	Stats      SessionStats `json:"stats"`
}

// SessionListResponse represents a list of sessions
type SessionListResponse struct {
	Sessions []SessionView `json:"sessions"`
	Total    int           `json:"total"`
}

// StartSessionRequest asks the server to start a new session
type StartSessionRequest struct {
	OutputURL  string `json:"outputUrl" binding:"required"`
	Width      int    `json:"width" binding:"omitempty,min=2,max=4096"`
	Height     int    `json:"height" binding:"omitempty,min=2,max=2304"`
	FrameRate  int    `json:"frameRate"`
	SampleRate int    `json:"sampleRate"`
	NoAudio    bool   `json:"noAudio"`
	Record     bool   `json:"record"`
	VideoFile  string `json:"videoFile"` // raw NV12 file under the input directory, empty for test pattern
	AudioFile  string `json:"audioFile"` // raw s16le file under the input directory, empty for test tone
}

// StartSessionResponse is returned when a session starts
type StartSessionResponse struct {
	ID        string `json:"id"`
	OutputURL string `json:"outputUrl"`
	StatusURL string `json:"statusUrl"`

	// ControlToken must be sent as a bearer token to stop or remove the session
	ControlToken string `json:"controlToken,omitempty"`
	ExpiresAt    string `json:"expiresAt,omitempty"`
}
