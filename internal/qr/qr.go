// Package qr renders share links as PNG data URLs.
package qr

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultSize is the edge length of the rendered image in pixels.
const DefaultSize = 256

// Encoder renders QR codes at a fixed size and error correction level.
type Encoder struct {
	Size  int
	Level qrcode.RecoveryLevel
}

func NewEncoder() *Encoder {
	return &Encoder{Size: DefaultSize, Level: qrcode.Medium}
}

// Encode returns content as a "data:image/png;base64," URL.
func (e *Encoder) Encode(content string) (string, error) {
	png, err := qrcode.Encode(content, e.Level, e.Size)
	if err != nil {
		return "", fmt.Errorf("qr encode: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
