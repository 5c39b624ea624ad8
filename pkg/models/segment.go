package models

import "time"

// Segment represents an HLS media segment
type Segment struct {
	Name        string    // Recording this segment belongs to
	SequenceNum uint64    // Segment sequence number
	Duration    float64   // Duration in seconds
	FilePath    string    // Path in storage
	FileSize    int64     // Size in bytes
	CreatedAt   time.Time // When segment was created
}

// Playlist represents an HLS playlist state
type Playlist struct {
	Name           string     // Recording name
	TargetDuration int        // EXT-X-TARGETDURATION
	MediaSequence  uint64     // EXT-X-MEDIA-SEQUENCE
	Segments       []*Segment // Segments currently listed
	MaxSegments    int        // Sliding window size, 0 keeps everything
	Ended          bool       // EXT-X-ENDLIST written
	LastUpdated    time.Time  // Last time playlist was updated
}

// AddSegment adds a new segment and maintains the sliding window.
// It returns the segment that fell out of the window, if any.
func (p *Playlist) AddSegment(seg *Segment) *Segment {
	p.Segments = append(p.Segments, seg)
	p.LastUpdated = time.Now()

	if d := int(seg.Duration + 0.999); d > p.TargetDuration {
		p.TargetDuration = d
	}

	if p.MaxSegments > 0 && len(p.Segments) > p.MaxSegments {
		removed := p.Segments[0]
		p.Segments = p.Segments[1:]
		p.MediaSequence++
		return removed
	}
	return nil
}
