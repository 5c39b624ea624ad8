package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"rapidcast/internal/pixfmt"
)

// Config holds all application configuration
type Config struct {
	// HTTP Server
	HTTPAddr string

	// Output
	OutputURL string
	Record    bool

	// Directory API requests may read raw input files from; empty disables
	// file inputs over the API
	InputDir string

	// Video
	VideoWidth     int
	VideoHeight    int
	VideoFrameRate int
	VideoBitrate   int
	VideoGOP       int
	VideoProfile   string
	VideoPreset    string
	VideoTune      string

	// Audio
	AudioEnabled        bool
	AudioSampleRate     int
	AudioChannels       int
	AudioBitrate        int
	AudioBufferCapacity int // samples
	AudioChunkSamples   int

	// Storage
	StorageType   string // "local" or "gcs"
	StorageDir    string
	GCSProjectID  string
	GCSBucketName string
	GCSBaseDir    string

	// HLS
	HLSSegmentDuration time.Duration
	HLSMaxSegments     int

	// SRT
	SRTLatency time.Duration

	// Limits
	MaxSessions int

	// Control tokens for the session API
	ControlTokenTTL time.Duration

	// Logging
	LogLevel  string
	LogFormat string // "text" or "json"
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		OutputURL:           getEnv("OUTPUT_URL", ""),
		Record:              getBoolEnv("RECORD", false),
		InputDir:            getEnv("INPUT_DIR", ""),
		VideoWidth:          getIntEnv("VIDEO_WIDTH", 640),
		VideoHeight:         getIntEnv("VIDEO_HEIGHT", 480),
		VideoFrameRate:      getIntEnv("VIDEO_FRAME_RATE", 30),
		VideoBitrate:        getIntEnv("VIDEO_BITRATE", 3200000),
		VideoGOP:            getIntEnv("VIDEO_GOP", 12),
		VideoProfile:        getEnv("VIDEO_PROFILE", "main"),
		VideoPreset:         getEnv("VIDEO_PRESET", "ultrafast"),
		VideoTune:           getEnv("VIDEO_TUNE", "film"),
		AudioEnabled:        getBoolEnv("AUDIO_ENABLED", true),
		AudioSampleRate:     getIntEnv("AUDIO_SAMPLE_RATE", 44100),
		AudioChannels:       getIntEnv("AUDIO_CHANNELS", 1),
		AudioBitrate:        getIntEnv("AUDIO_BITRATE", 128000),
		AudioBufferCapacity: getIntEnv("AUDIO_BUFFER_CAPACITY", 16384),
		AudioChunkSamples:   getIntEnv("AUDIO_CHUNK_SAMPLES", 2048),
		StorageType:         getEnv("STORAGE_TYPE", "local"),
		StorageDir:          getEnv("STORAGE_DIR", "./data/recordings"),
		GCSProjectID:        getEnv("GCS_PROJECT_ID", ""),
		GCSBucketName:       getEnv("GCS_BUCKET_NAME", ""),
		GCSBaseDir:          getEnv("GCS_BASE_DIR", "recordings"),
		HLSSegmentDuration:  getDurationEnv("HLS_SEGMENT_DURATION", 2*time.Second),
		HLSMaxSegments:      getIntEnv("HLS_MAX_SEGMENTS", 10),
		SRTLatency:          getDurationEnv("SRT_LATENCY", 120*time.Millisecond),
		MaxSessions:         getIntEnv("MAX_SESSIONS", 4),
		ControlTokenTTL:     getDurationEnv("CONTROL_TOKEN_TTL", 24*time.Hour),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "text"),
	}
}

// Validate checks the values the encoders and storage depend on
func (c *Config) Validate() error {
	if err := pixfmt.CheckSize(c.VideoWidth, c.VideoHeight); err != nil {
		return fmt.Errorf("invalid video size: %w", err)
	}
	if c.VideoFrameRate <= 0 {
		return fmt.Errorf("invalid video frame rate %d", c.VideoFrameRate)
	}
	if c.VideoBitrate <= 0 || c.VideoGOP <= 0 {
		return fmt.Errorf("video bitrate and GOP size must be positive")
	}
	if c.AudioEnabled {
		if c.AudioSampleRate <= 0 {
			return fmt.Errorf("invalid audio sample rate %d", c.AudioSampleRate)
		}
		if c.AudioChannels != 1 && c.AudioChannels != 2 {
			return fmt.Errorf("unsupported audio channel count %d", c.AudioChannels)
		}
		if c.AudioBitrate <= 0 || c.AudioBufferCapacity <= 0 || c.AudioChunkSamples <= 0 {
			return fmt.Errorf("audio bitrate, buffer capacity and chunk size must be positive")
		}
		if c.AudioBufferCapacity < 2*c.AudioChunkSamples*c.AudioChannels {
			return fmt.Errorf("audio buffer capacity %d must hold two chunks of %d samples x%d channels",
				c.AudioBufferCapacity, c.AudioChunkSamples, c.AudioChannels)
		}
	}
	switch c.StorageType {
	case "local":
	case "gcs":
		if c.GCSProjectID == "" || c.GCSBucketName == "" {
			return fmt.Errorf("GCS_PROJECT_ID and GCS_BUCKET_NAME must be set when STORAGE_TYPE=gcs")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.StorageType)
	}
	if c.HLSSegmentDuration <= 0 {
		return fmt.Errorf("invalid HLS segment duration %s", c.HLSSegmentDuration)
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("invalid session limit %d", c.MaxSessions)
	}
	if c.ControlTokenTTL <= 0 {
		return fmt.Errorf("invalid control token TTL %s", c.ControlTokenTTL)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// Helper functions to get environment variables with defaults

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
