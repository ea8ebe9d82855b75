package passes

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultQRSize is the edge length in pixels of rendered passes.
const DefaultQRSize = 256

// RenderPNG encodes token as a QR code PNG of size x size pixels.
func RenderPNG(token string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(token, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}

// DataURL renders token as an inline "data:image/png;base64,..." URL for the student UI.
func DataURL(token string) (string, error) {
	png, err := RenderPNG(token, DefaultQRSize)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
