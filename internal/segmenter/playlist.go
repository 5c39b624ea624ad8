package segmenter

import (
	"bytes"
	"fmt"
	"path"

	"rapidcast/pkg/models"
)

// PlaylistName is the media playlist file written next to the segments
const PlaylistName = "index.m3u8"

// GeneratePlaylist renders an HLS media playlist for MPEG-TS segments
func GeneratePlaylist(p *models.Playlist) string {
	var buf bytes.Buffer

	buf.WriteString("#EXTM3U\n")
	buf.WriteString("#EXT-X-VERSION:3\n")
	buf.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", p.TargetDuration))
	buf.WriteString(fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n", p.MediaSequence))
	if p.MaxSegments == 0 && p.Ended {
		buf.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	}

	for _, seg := range p.Segments {
		buf.WriteString(fmt.Sprintf("#EXTINF:%.3f,\n", seg.Duration))
		buf.WriteString(path.Base(seg.FilePath) + "\n")
	}

	if p.Ended {
		buf.WriteString("#EXT-X-ENDLIST\n")
	}

	return buf.String()
}

func segmentPath(name string, seq uint64) string {
	return fmt.Sprintf("%s/segment_%d.ts", name, seq)
}

func playlistPath(name string) string {
	return name + "/" + PlaylistName
}
