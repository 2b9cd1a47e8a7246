package whatsmeowdriver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"wagateway/pkg/whatsapp/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	watypes "go.mau.fi/whatsmeow/types"
)

type fakeUploader struct {
	uploads []whatsmeow.MediaType
	err     error
}

func (u *fakeUploader) Upload(_ context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	u.uploads = append(u.uploads, appInfo)
	if u.err != nil {
		return whatsmeow.UploadResponse{}, u.err
	}
	return whatsmeow.UploadResponse{
		URL:           "https://mmg.whatsapp.net/x",
		DirectPath:    "/v/t62/x",
		MediaKey:      []byte{1},
		FileEncSHA256: []byte{2},
		FileSHA256:    []byte{3},
		FileLength:    uint64(len(plaintext)),
	}, nil
}

func TestDecodeKey(t *testing.T) {
	key, err := decodeKey(types.MessageKey{RemoteJID: "1@s.whatsapp.net", ID: "A"})
	require.NoError(t, err)
	assert.Equal(t, "A", key.ID)

	key, err = decodeKey(map[string]interface{}{"remoteJid": "1@s.whatsapp.net", "fromMe": true, "id": "B"})
	require.NoError(t, err)
	assert.Equal(t, types.MessageKey{RemoteJID: "1@s.whatsapp.net", FromMe: true, ID: "B"}, key)

	_, err = decodeKey(map[string]interface{}{"remoteJid": "1@s.whatsapp.net"})
	assert.Error(t, err)

	_, err = decodeKey("B")
	assert.Error(t, err)
}

func TestKeySender(t *testing.T) {
	sender, err := keySender(types.MessageKey{FromMe: true, ID: "A"}, groupJID)
	require.NoError(t, err)
	assert.True(t, sender.IsEmpty())

	sender, err = keySender(types.MessageKey{ID: "A", Participant: "15550002222@s.whatsapp.net"}, groupJID)
	require.NoError(t, err)
	assert.Equal(t, "15550002222", sender.User)

	sender, err = keySender(types.MessageKey{ID: "A"}, userJID)
	require.NoError(t, err)
	assert.Equal(t, userJID, sender)
}

func TestContextInfo(t *testing.T) {
	info, err := contextInfo(types.MessageContent{"text": "hi"}, nil)
	require.NoError(t, err)
	assert.Nil(t, info)

	info, err = contextInfo(types.MessageContent{"text": "hi"}, &types.SendOptions{})
	require.NoError(t, err)
	assert.Nil(t, info)

	info, err = contextInfo(types.MessageContent{
		"text":     "hi @1",
		"mentions": []interface{}{"1@s.whatsapp.net", 7},
	}, &types.SendOptions{
		EphemeralExpiration: 86400,
		Quoted: &types.WebMessageInfo{
			Key:     types.MessageKey{RemoteJID: "1@s.whatsapp.net", ID: "Q1"},
			Message: &types.Message{Conversation: "original"},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, []string{"1@s.whatsapp.net"}, info.MentionedJID)
	assert.Equal(t, "Q1", info.GetStanzaID())
	assert.Equal(t, "1@s.whatsapp.net", info.GetParticipant())
	assert.Equal(t, "original", info.GetQuotedMessage().GetConversation())
	assert.Equal(t, uint32(86400), info.GetExpiration())

	info, err = contextInfo(types.MessageContent{}, &types.SendOptions{Quoted: &types.WebMessageInfo{
		Key: types.MessageKey{RemoteJID: "1@s.whatsapp.net", FromMe: true, ID: "Q2"},
	}})
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Nil(t, info.Participant)
	assert.NotNil(t, info.QuotedMessage)
}

func TestContextInfo_InvalidQuotedText(t *testing.T) {
	_, err := contextInfo(types.MessageContent{}, &types.SendOptions{Quoted: &types.WebMessageInfo{
		Key:     types.MessageKey{ID: "Q"},
		Message: &types.Message{ExtendedTextMessage: json.RawMessage(`{"text": 5}`)},
	}})
	assert.Error(t, err)
}

func TestTextMessage(t *testing.T) {
	msg := textMessage("hello", nil)
	assert.Equal(t, "hello", msg.GetConversation())
	assert.Nil(t, msg.ExtendedTextMessage)

	ctxInfo := &waE2E.ContextInfo{MentionedJID: []string{"1@s.whatsapp.net"}}
	msg = textMessage("hello", ctxInfo)
	assert.Empty(t, msg.GetConversation())
	assert.Equal(t, "hello", msg.GetExtendedTextMessage().GetText())
	assert.Same(t, ctxInfo, msg.GetExtendedTextMessage().GetContextInfo())
}

func TestMediaContent(t *testing.T) {
	ctx := context.Background()

	up := &fakeUploader{}
	msg, isMedia, err := mediaContent(ctx, up, types.MessageContent{"text": "plain"}, nil)
	require.NoError(t, err)
	assert.False(t, isMedia)
	assert.Nil(t, msg)
	assert.Empty(t, up.uploads)

	png := []byte("\x89PNG\r\n\x1a\n0000")
	msg, isMedia, err = mediaContent(ctx, up, types.MessageContent{"image": png, "caption": "pic"}, nil)
	require.NoError(t, err)
	assert.True(t, isMedia)
	img := msg.GetImageMessage()
	require.NotNil(t, img)
	assert.Equal(t, "pic", img.GetCaption())
	assert.Equal(t, "image/png", img.GetMimetype())
	assert.Equal(t, "/v/t62/x", img.GetDirectPath())
	assert.Equal(t, uint64(len(png)), img.GetFileLength())

	msg, _, err = mediaContent(ctx, up, types.MessageContent{"audio": []byte("ogg"), "ptt": true}, nil)
	require.NoError(t, err)
	assert.True(t, msg.GetAudioMessage().GetPTT())
	assert.Equal(t, "audio/ogg; codecs=opus", msg.GetAudioMessage().GetMimetype())

	msg, _, err = mediaContent(ctx, up, types.MessageContent{
		"document": []byte("%PDF"), "fileName": "a.pdf", "mimetype": "application/pdf",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", msg.GetDocumentMessage().GetFileName())
	assert.Equal(t, "application/pdf", msg.GetDocumentMessage().GetMimetype())

	assert.Equal(t, []whatsmeow.MediaType{whatsmeow.MediaImage, whatsmeow.MediaAudio, whatsmeow.MediaDocument}, up.uploads)
}

func TestMediaContent_UploadFailure(t *testing.T) {
	up := &fakeUploader{err: errors.New("media conn refused")}
	_, isMedia, err := mediaContent(context.Background(), up, types.MessageContent{"video": []byte("mp4")}, nil)
	assert.True(t, isMedia)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload video")
}

func TestDownloadable(t *testing.T) {
	media := &types.MediaMessage{DirectPath: "/v/t62/x", MediaKey: []byte{1}, FileLength: 10, Mimetype: "image/jpeg"}

	msg, err := downloadable(media, types.MediaImage)
	require.NoError(t, err)
	img, ok := msg.(*waE2E.ImageMessage)
	require.True(t, ok)
	assert.Equal(t, "/v/t62/x", img.GetDirectPath())
	assert.Nil(t, img.URL)

	msg, err = downloadable(media, types.MediaDocument)
	require.NoError(t, err)
	assert.IsType(t, &waE2E.DocumentMessage{}, msg)

	_, err = downloadable(media, types.MediaKind("sticker"))
	assert.Error(t, err)
}

func TestMuteDuration(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	tests := []struct {
		name  string
		in    interface{}
		muted bool
		dur   time.Duration
		err   bool
	}{
		{"nil unmutes", nil, false, 0, false},
		{"false unmutes", false, false, 0, false},
		{"forever", float64(-1), true, 0, false},
		{"deadline", float64(1_700_000_000_000 + 8*3600*1000), true, 8 * time.Hour, false},
		{"int deadline", 1_700_000_000_000 + 60_000, true, time.Minute, false},
		{"past deadline", float64(1_600_000_000_000), false, 0, false},
		{"json number", json.Number("1700000060000"), true, time.Minute, false},
		{"string", "8h", false, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			muted, dur, err := muteDuration(tt.in, now)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.muted, muted)
			assert.Equal(t, tt.dur, dur)
		})
	}
}

func TestGroupKeys(t *testing.T) {
	groups, err := groupKeys([]types.MessageKey{
		{RemoteJID: "1@s.whatsapp.net", ID: "A"},
		{RemoteJID: "123-456@g.us", Participant: "2@s.whatsapp.net", ID: "B"},
		{RemoteJID: "1@s.whatsapp.net", ID: "C"},
		{RemoteJID: "123-456@g.us", Participant: "3@s.whatsapp.net", ID: "D"},
	})
	require.NoError(t, err)
	require.Len(t, groups, 3)

	assert.Equal(t, "1@s.whatsapp.net", groups[0].chat.String())
	assert.True(t, groups[0].sender.IsEmpty())
	assert.Equal(t, []watypes.MessageID{"A", "C"}, groups[0].ids)
	assert.Equal(t, "2@s.whatsapp.net", groups[1].sender.String())
	assert.Equal(t, []watypes.MessageID{"B"}, groups[1].ids)
	assert.Equal(t, []watypes.MessageID{"D"}, groups[2].ids)
}

func TestGroupMetadata(t *testing.T) {
	created := time.Unix(1600000000, 0)
	meta := groupMetadata(&watypes.GroupInfo{
		JID:           groupJID,
		OwnerJID:      userJID,
		GroupName:     watypes.GroupName{Name: "Team"},
		GroupTopic:    watypes.GroupTopic{Topic: "Plans"},
		GroupAnnounce: watypes.GroupAnnounce{IsAnnounce: true},
		GroupCreated:  created,
		Participants: []watypes.GroupParticipant{
			{JID: userJID, IsAdmin: true, IsSuperAdmin: true},
			{JID: senderJID.ToNonAD(), IsAdmin: true},
			{JID: watypes.NewJID("3", watypes.DefaultUserServer)},
		},
	})

	assert.Equal(t, "123-456@g.us", meta.ID)
	assert.Equal(t, "Team", meta.Subject)
	assert.Equal(t, "Plans", meta.Desc)
	assert.Equal(t, "15550001111@s.whatsapp.net", meta.Owner)
	assert.Equal(t, int64(1600000000), meta.Creation)
	assert.True(t, meta.Announce)
	assert.False(t, meta.Restrict)
	assert.Equal(t, 3, meta.Size)
	assert.Equal(t, []types.GroupParticipant{
		{ID: "15550001111@s.whatsapp.net", Admin: "superadmin"},
		{ID: "15550002222@s.whatsapp.net", Admin: "admin"},
		{ID: "3@s.whatsapp.net"},
	}, meta.Participants)
}
