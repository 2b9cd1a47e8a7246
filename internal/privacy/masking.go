package privacy

import (
	"encoding/json"
	"strings"

	"wagateway/internal/constants"
)

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+5511999999999" -> "+*********9999"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		if len(phone) == 1 {
			return phone
		}
		return "+" + maskString(phone[1:], constants.DefaultPhoneMaskLength)
	}
	return maskString(phone, constants.DefaultPhoneMaskLength)
}

// MaskJID masks the user part of a JID, keeping server and device suffix
// Example: "5511999999999:12@s.whatsapp.net" -> "*********9999:12@s.whatsapp.net"
func MaskJID(jid string) string {
	if jid == "" {
		return ""
	}

	user, server, hasServer := strings.Cut(jid, "@")
	user, device, hasDevice := strings.Cut(user, ":")

	masked := maskString(user, constants.DefaultPhoneMaskLength)
	if hasDevice {
		masked += ":" + device
	}
	if hasServer {
		masked += "@" + server
	}
	return masked
}

// MaskMessageID keeps the last 4 characters of a message id
func MaskMessageID(messageID string) string {
	return maskString(messageID, 4)
}

func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}
		switch k {
		case "tenant", "phone", "phoneNumber", "phone_number":
			masked[k] = MaskPhoneNumber(s)
		case "jid", "remoteJid", "participant", "chat_id":
			masked[k] = MaskJID(s)
		case "message_id", "messageId", "id":
			masked[k] = MaskMessageID(s)
		case "webhookVerifyToken", "token", "api_key":
			masked[k] = "[REDACTED]"
		default:
			masked[k] = s
		}
	}
	return masked
}

// Redact returns a generic JSON view of v with every object key in omit
// removed at any depth. Values that cannot be encoded come back as nil.
func Redact(v interface{}, omit ...string) interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil
	}

	drop := make(map[string]struct{}, len(omit))
	for _, k := range omit {
		drop[k] = struct{}{}
	}
	return strip(generic, drop)
}

func strip(v interface{}, drop map[string]struct{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, item := range val {
			if _, ok := drop[k]; ok {
				delete(val, k)
				continue
			}
			val[k] = strip(item, drop)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = strip(item, drop)
		}
		return val
	default:
		return v
	}
}
