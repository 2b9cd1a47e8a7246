package session

import (
	"encoding/base64"
	"fmt"

	"github.com/skip2/go-qrcode"
)

const qrImageSize = 256

// QRDataURL renders a pairing challenge as a PNG data URL.
func QRDataURL(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
