package media

import "wagateway/pkg/whatsapp/types"

type variant struct {
	name string
	kind types.MediaKind
	get  func(*types.Message) *types.MediaMessage
}

// variants are checked in order; the first populated one wins.
var variants = []variant{
	{"imageMessage", types.MediaImage, func(m *types.Message) *types.MediaMessage { return m.ImageMessage }},
	{"stickerMessage", types.MediaImage, func(m *types.Message) *types.MediaMessage { return m.StickerMessage }},
	{"videoMessage", types.MediaVideo, func(m *types.Message) *types.MediaMessage { return m.VideoMessage }},
	{"audioMessage", types.MediaAudio, func(m *types.Message) *types.MediaMessage { return m.AudioMessage }},
	{"documentMessage", types.MediaDocument, func(m *types.Message) *types.MediaMessage { return m.DocumentMessage }},
}

// Resolve returns the media-bearing part of msg and the kind used to fetch it.
func Resolve(msg *types.Message) (*types.MediaMessage, types.MediaKind, bool) {
	if msg == nil {
		return nil, "", false
	}
	for _, v := range variants {
		if media := v.get(msg); media != nil {
			return media, v.kind, true
		}
	}
	return nil, "", false
}
