package validation

import (
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"wagateway/internal/constants"
	"wagateway/internal/errors"
)

var jidServers = map[string]struct{}{
	"s.whatsapp.net": {},
	"c.us":           {},
	"g.us":           {},
	"lid":            {},
	"broadcast":      {},
	"newsletter":     {},
}

// ValidatePhoneNumber validates a tenant phone number: optional "+" then digits
func ValidatePhoneNumber(phone string) error {
	if phone == "" {
		return errors.New(errors.ErrCodeInvalidInput, "phone number cannot be empty")
	}

	cleaned := strings.TrimPrefix(phone, "+")

	if len(cleaned) < constants.MinPhoneNumberLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("phone number must be at least %d digits", constants.MinPhoneNumberLength))
	}

	if len(cleaned) > constants.MaxPhoneNumberLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("phone number too long (max %d digits)", constants.MaxPhoneNumberLength))
	}

	for _, char := range cleaned {
		if !unicode.IsDigit(char) {
			return errors.New(errors.ErrCodeInvalidInput, "phone number must contain only digits")
		}
	}

	return nil
}

// NormalizePhoneNumber validates phone and returns it as "+<digits>"
func NormalizePhoneNumber(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if err := ValidatePhoneNumber(phone); err != nil {
		return "", err
	}
	return "+" + strings.TrimPrefix(phone, "+"), nil
}

// ValidateJID validates "<user>[:<device>]@<server>" addresses
func ValidateJID(jid string) error {
	if jid == "" {
		return errors.New(errors.ErrCodeInvalidInput, "jid cannot be empty")
	}
	if len(jid) > constants.MaxJIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("jid too long (max %d characters)", constants.MaxJIDLength))
	}

	user, server, ok := strings.Cut(jid, "@")
	if !ok || user == "" {
		return errors.New(errors.ErrCodeInvalidInput, "jid must have the form user@server")
	}
	if _, known := jidServers[server]; !known {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown jid server: %s", server))
	}
	for _, char := range user {
		if unicode.IsSpace(char) || unicode.IsControl(char) {
			return errors.New(errors.ErrCodeInvalidInput, "jid contains invalid characters")
		}
	}
	return nil
}

// ValidateMessageID validates message ID format and length
func ValidateMessageID(messageID string) error {
	if messageID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "message ID cannot be empty")
	}

	if len(messageID) > constants.MaxMessageIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("message ID too long (max %d characters)", constants.MaxMessageIDLength))
	}

	// Message IDs double as media file names
	for _, char := range messageID {
		if char == '\x00' || char == '\n' || char == '\r' || char == '\t' || char == '/' || char == '\\' {
			return errors.New(errors.ErrCodeInvalidInput, "message ID contains invalid characters")
		}
	}
	if messageID == "." || messageID == ".." {
		return errors.New(errors.ErrCodeInvalidInput, "message ID contains invalid characters")
	}

	return nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}

	return nil
}

// ValidateStringLength validates string length against bounds
func ValidateStringLength(value, fieldName string, minLength, maxLength int) error {
	if len(value) < minLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too short (min %d characters)", fieldName, minLength))
	}

	if len(value) > maxLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too long (max %d characters)", fieldName, maxLength))
	}

	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}

	if value > max {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}

	return nil
}
