package services

import (
	"encoding/base64"
	"fmt"

	"github.com/skip2/go-qrcode"
)

const qrCodeSize = 256

// EncodeQRDataURL renders a pairing code as a PNG data URL
func EncodeQRDataURL(code string) (string, error) {
	if code == "" {
		return "", fmt.Errorf("empty pairing code")
	}
	png, err := qrcode.Encode(code, qrcode.Medium, qrCodeSize)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
