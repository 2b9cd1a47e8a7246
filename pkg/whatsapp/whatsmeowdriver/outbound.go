package whatsmeowdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"wagateway/pkg/whatsapp/types"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	watypes "go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// uploader is the part of the client used to push media before sending.
type uploader interface {
	Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
}

// decodeKey accepts a MessageKey or its JSON object form.
func decodeKey(v interface{}) (types.MessageKey, error) {
	if key, ok := v.(types.MessageKey); ok {
		return key, nil
	}
	var key types.MessageKey
	data, err := json.Marshal(v)
	if err == nil {
		err = json.Unmarshal(data, &key)
	}
	if err != nil || key.ID == "" {
		return types.MessageKey{}, fmt.Errorf("invalid message key")
	}
	return key, nil
}

// keySender is the author of the keyed message; empty for our own messages.
func keySender(key types.MessageKey, chat watypes.JID) (watypes.JID, error) {
	if key.FromMe {
		return watypes.EmptyJID, nil
	}
	if key.Participant != "" {
		return watypes.ParseJID(key.Participant)
	}
	return chat, nil
}

func stringList(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func stringField(content types.MessageContent, field string) string {
	s, _ := content[field].(string)
	return s
}

// contextInfo carries reply, mention and disappearing-message settings; nil when none apply.
func contextInfo(content types.MessageContent, opts *types.SendOptions) (*waE2E.ContextInfo, error) {
	info := &waE2E.ContextInfo{}
	used := false
	if mentions := stringList(content["mentions"]); len(mentions) > 0 {
		info.MentionedJID = mentions
		used = true
	}
	if opts != nil && opts.Quoted != nil {
		quoted, err := protoMessage(opts.Quoted.Message)
		if err != nil {
			return nil, err
		}
		info.StanzaID = proto.String(opts.Quoted.Key.ID)
		info.QuotedMessage = quoted
		if participant := opts.Quoted.Key.Participant; participant != "" {
			info.Participant = proto.String(participant)
		} else if !opts.Quoted.Key.FromMe {
			info.Participant = proto.String(opts.Quoted.Key.RemoteJID)
		}
		used = true
	}
	if opts != nil && opts.EphemeralExpiration > 0 {
		info.Expiration = proto.Uint32(uint32(opts.EphemeralExpiration))
		used = true
	}
	if !used {
		return nil, nil
	}
	return info, nil
}

// protoMessage rebuilds a quoted message from its envelope form.
func protoMessage(msg *types.Message) (*waE2E.Message, error) {
	if msg == nil {
		return &waE2E.Message{}, nil
	}
	out := &waE2E.Message{}
	if msg.Conversation != "" {
		out.Conversation = proto.String(msg.Conversation)
	}
	if len(msg.ExtendedTextMessage) > 0 {
		ext := &waE2E.ExtendedTextMessage{}
		if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(msg.ExtendedTextMessage, ext); err != nil {
			return nil, fmt.Errorf("invalid quoted message: %w", err)
		}
		out.ExtendedTextMessage = ext
	}
	if m := msg.ImageMessage; m != nil {
		out.ImageMessage = &waE2E.ImageMessage{Caption: optional(m.Caption), Mimetype: optional(m.Mimetype)}
	}
	if m := msg.VideoMessage; m != nil {
		out.VideoMessage = &waE2E.VideoMessage{Caption: optional(m.Caption), Mimetype: optional(m.Mimetype)}
	}
	if m := msg.AudioMessage; m != nil {
		out.AudioMessage = &waE2E.AudioMessage{Mimetype: optional(m.Mimetype), PTT: proto.Bool(m.PTT)}
	}
	if m := msg.DocumentMessage; m != nil {
		out.DocumentMessage = &waE2E.DocumentMessage{FileName: optional(m.FileName), Mimetype: optional(m.Mimetype)}
	}
	return out, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return proto.String(s)
}

// textMessage is a plain conversation unless context has to travel with it.
func textMessage(text string, ctxInfo *waE2E.ContextInfo) *waE2E.Message {
	if ctxInfo == nil {
		return &waE2E.Message{Conversation: proto.String(text)}
	}
	return &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text:        proto.String(text),
		ContextInfo: ctxInfo,
	}}
}

func mimetype(content types.MessageContent, data []byte, fallback string) string {
	if m := stringField(content, "mimetype"); m != "" {
		return m
	}
	if fallback != "" {
		return fallback
	}
	return http.DetectContentType(data)
}

// mediaContent uploads the first media field present and builds its message.
func mediaContent(ctx context.Context, up uploader, content types.MessageContent, ctxInfo *waE2E.ContextInfo) (*waE2E.Message, bool, error) {
	kinds := []struct {
		field string
		kind  whatsmeow.MediaType
	}{
		{"image", whatsmeow.MediaImage},
		{"video", whatsmeow.MediaVideo},
		{"audio", whatsmeow.MediaAudio},
		{"document", whatsmeow.MediaDocument},
	}
	for _, k := range kinds {
		data, ok := content[k.field].([]byte)
		if !ok {
			continue
		}
		resp, err := up.Upload(ctx, data, k.kind)
		if err != nil {
			return nil, true, fmt.Errorf("upload %s: %w", k.field, err)
		}
		caption := optional(stringField(content, "caption"))
		switch k.field {
		case "image":
			return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
				URL: proto.String(resp.URL), DirectPath: proto.String(resp.DirectPath),
				MediaKey: resp.MediaKey, FileEncSHA256: resp.FileEncSHA256, FileSHA256: resp.FileSHA256,
				FileLength: proto.Uint64(resp.FileLength), Mimetype: proto.String(mimetype(content, data, "")),
				Caption: caption, ContextInfo: ctxInfo,
			}}, true, nil
		case "video":
			return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
				URL: proto.String(resp.URL), DirectPath: proto.String(resp.DirectPath),
				MediaKey: resp.MediaKey, FileEncSHA256: resp.FileEncSHA256, FileSHA256: resp.FileSHA256,
				FileLength: proto.Uint64(resp.FileLength), Mimetype: proto.String(mimetype(content, data, "video/mp4")),
				Caption: caption, ContextInfo: ctxInfo,
			}}, true, nil
		case "audio":
			ptt, _ := content["ptt"].(bool)
			return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
				URL: proto.String(resp.URL), DirectPath: proto.String(resp.DirectPath),
				MediaKey: resp.MediaKey, FileEncSHA256: resp.FileEncSHA256, FileSHA256: resp.FileSHA256,
				FileLength: proto.Uint64(resp.FileLength), Mimetype: proto.String(mimetype(content, data, "audio/ogg; codecs=opus")),
				PTT: proto.Bool(ptt), ContextInfo: ctxInfo,
			}}, true, nil
		default:
			return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
				URL: proto.String(resp.URL), DirectPath: proto.String(resp.DirectPath),
				MediaKey: resp.MediaKey, FileEncSHA256: resp.FileEncSHA256, FileSHA256: resp.FileSHA256,
				FileLength: proto.Uint64(resp.FileLength), Mimetype: proto.String(mimetype(content, data, "application/octet-stream")),
				FileName: optional(stringField(content, "fileName")), Caption: caption, ContextInfo: ctxInfo,
			}}, true, nil
		}
	}
	return nil, false, nil
}

// downloadable rebuilds the message variant whatsmeow decrypts media from.
func downloadable(m *types.MediaMessage, kind types.MediaKind) (whatsmeow.DownloadableMessage, error) {
	switch kind {
	case types.MediaImage:
		return &waE2E.ImageMessage{
			URL: optional(m.URL), DirectPath: optional(m.DirectPath), MediaKey: m.MediaKey,
			FileSHA256: m.FileSHA256, FileEncSHA256: m.FileEncSHA256, FileLength: proto.Uint64(m.FileLength),
			Mimetype: optional(m.Mimetype),
		}, nil
	case types.MediaVideo:
		return &waE2E.VideoMessage{
			URL: optional(m.URL), DirectPath: optional(m.DirectPath), MediaKey: m.MediaKey,
			FileSHA256: m.FileSHA256, FileEncSHA256: m.FileEncSHA256, FileLength: proto.Uint64(m.FileLength),
			Mimetype: optional(m.Mimetype),
		}, nil
	case types.MediaAudio:
		return &waE2E.AudioMessage{
			URL: optional(m.URL), DirectPath: optional(m.DirectPath), MediaKey: m.MediaKey,
			FileSHA256: m.FileSHA256, FileEncSHA256: m.FileEncSHA256, FileLength: proto.Uint64(m.FileLength),
			Mimetype: optional(m.Mimetype),
		}, nil
	case types.MediaDocument:
		return &waE2E.DocumentMessage{
			URL: optional(m.URL), DirectPath: optional(m.DirectPath), MediaKey: m.MediaKey,
			FileSHA256: m.FileSHA256, FileEncSHA256: m.FileEncSHA256, FileLength: proto.Uint64(m.FileLength),
			Mimetype: optional(m.Mimetype),
		}, nil
	}
	return nil, fmt.Errorf("unsupported media kind %q", kind)
}

// muteDuration reads a mute value: a future unix-millisecond deadline, or
// a negative number to mute indefinitely.
func muteDuration(v interface{}, now time.Time) (bool, time.Duration, error) {
	if v == nil || v == false {
		return false, 0, nil
	}
	var until float64
	switch n := v.(type) {
	case float64:
		until = n
	case int:
		until = float64(n)
	case int64:
		until = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return false, 0, fmt.Errorf("invalid mute value %q", n)
		}
		until = f
	default:
		return false, 0, fmt.Errorf("invalid mute value %v", v)
	}
	if until < 0 {
		return true, 0, nil
	}
	d := time.UnixMilli(int64(until)).Sub(now)
	if d <= 0 {
		return false, 0, nil
	}
	return true, d, nil
}
