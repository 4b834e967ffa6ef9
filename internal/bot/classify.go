package bot

import (
	"strings"

	kit "albumbot/internal/transport"
)

// Classify maps a raw inbound media payload to a queueable item. Photos,
// videos, and animations classify directly; documents classify by MIME
// prefix (image/* -> photo, video/* -> video). The second return is false
// for unsupported payloads, which are reported to the user and discarded.
func Classify(in kit.InboundMedia) (kit.Media, bool) {
	var kind kit.MediaKind
	switch in.Source {
	case kit.SourcePhoto:
		kind = kit.MediaPhoto
	case kit.SourceVideo, kit.SourceAnimation:
		kind = kit.MediaVideo
	case kit.SourceDocument:
		mime := strings.ToLower(strings.TrimSpace(in.MIME))
		switch {
		case strings.HasPrefix(mime, "image/"):
			kind = kit.MediaPhoto
		case strings.HasPrefix(mime, "video/"):
			kind = kit.MediaVideo
		default:
			return kit.Media{}, false
		}
	default:
		return kit.Media{}, false
	}
	return kit.Media{Kind: kind, FileID: in.FileID, Caption: in.Caption}, true
}
