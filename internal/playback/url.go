package playback

import "strings"

// StreamType is the appliance's protocol code for a decoding source.
type StreamType int

const (
	StreamRTSP StreamType = 1
	StreamRTMP StreamType = 2
	StreamSRT  StreamType = 3
	StreamHTTP StreamType = 4
)

func (t StreamType) String() string {
	switch t {
	case StreamRTSP:
		return "rtsp"
	case StreamRTMP:
		return "rtmp"
	case StreamSRT:
		return "srt"
	case StreamHTTP:
		return "http"
	default:
		return "unknown"
	}
}

const cameraPrefix = "camera."

var nativeSchemes = []string{"rtsp://", "rtmp://", "srt://"}

// NeedsConversion reports whether url must be converted by the relay before
// the appliance can play it. Camera resource IDs always need conversion.
func NeedsConversion(url string) bool {
	if strings.HasPrefix(url, cameraPrefix) {
		return true
	}
	lower := strings.ToLower(url)
	for _, scheme := range nativeSchemes {
		if strings.HasPrefix(lower, scheme) {
			return false
		}
	}
	return true
}

// StreamTypeFor maps a playable URL onto the appliance's stream type,
// defaulting to RTSP.
func StreamTypeFor(url string) StreamType {
	lower := strings.ToLower(url)
	switch {
	case strings.HasPrefix(lower, "rtmp://"):
		return StreamRTMP
	case strings.HasPrefix(lower, "srt://"):
		return StreamSRT
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return StreamHTTP
	default:
		return StreamRTSP
	}
}

// IsCamera reports whether a request names a camera resource.
func IsCamera(mediaType, mediaID string) bool {
	return mediaType == "camera" || strings.HasPrefix(mediaID, cameraPrefix)
}
