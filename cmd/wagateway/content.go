package main

import (
	"encoding/base64"
	"encoding/json"

	apperrors "wagateway/internal/errors"
	"wagateway/pkg/whatsapp/types"
)

// binaryFields carry base64 media in requests and raw bytes towards the client.
var binaryFields = []string{"image", "video", "document", "audio"}

const quotedField = "quotedMessage"

// buildMessageContent turns a send-message body into client content. Media
// fields are decoded from base64 and a quotedMessage becomes the reply target.
func buildMessageContent(raw map[string]interface{}) (types.MessageContent, *types.SendOptions, error) {
	if len(raw) == 0 {
		return nil, nil, apperrors.NewValidationError("messageContent", "message content is required")
	}

	if react, ok := raw["react"]; ok {
		return types.MessageContent{"react": react}, nil, nil
	}

	content := make(types.MessageContent, len(raw))
	for k, v := range raw {
		if k != quotedField {
			content[k] = v
		}
	}

	kind := ""
	if _, ok := content["text"].(string); ok {
		kind = "text"
	}
	for _, field := range binaryFields {
		encoded, present := content[field]
		if !present {
			continue
		}
		s, ok := encoded.(string)
		if !ok {
			return nil, nil, apperrors.NewValidationError("messageContent."+field, "must be a base64 string")
		}
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, nil, apperrors.NewValidationError("messageContent."+field, "invalid base64 data")
		}
		content[field] = data
		kind = field
	}
	if kind == "" {
		return nil, nil, apperrors.NewValidationError("messageContent", "one of text, image, video, document, audio or react is required")
	}

	quoted, err := quotedMessage(raw[quotedField])
	if err != nil {
		return nil, nil, err
	}
	if quoted == nil {
		return content, nil, nil
	}
	return content, &types.SendOptions{Quoted: quoted}, nil
}

func quotedMessage(v interface{}) (*types.WebMessageInfo, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, apperrors.NewValidationError("messageContent.quotedMessage", "malformed quoted message")
	}
	var quoted types.WebMessageInfo
	if err := json.Unmarshal(data, &quoted); err != nil {
		return nil, apperrors.NewValidationError("messageContent.quotedMessage", "malformed quoted message")
	}
	if quoted.Key.ID == "" {
		return nil, apperrors.NewValidationError("messageContent.quotedMessage.key.id", "message id is required")
	}
	return &quoted, nil
}

// buildEditableContent accepts text edits only, with optional mentions.
func buildEditableContent(raw map[string]interface{}) (types.MessageContent, error) {
	text, ok := raw["text"].(string)
	if !ok {
		return nil, apperrors.NewValidationError("messageContent.text", "only text messages can be edited")
	}
	content := types.MessageContent{"text": text}
	if mentions, ok := raw["mentions"]; ok {
		list, ok := mentions.([]interface{})
		if !ok {
			return nil, apperrors.NewValidationError("messageContent.mentions", "must be a list of jids")
		}
		content["mentions"] = list
	}
	return content, nil
}
