package automation

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
)

// DataURLPrefix starts every pairing code handed to callers.
const DataURLPrefix = "data:image/png;base64,"

// RenderQR turns a raw pairing string into a PNG data URL.
func RenderQR(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", errors.New("empty pairing payload")
	}
	png, err := qrcode.Encode(raw, qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR: %w", err)
	}
	return DataURLPrefix + base64.StdEncoding.EncodeToString(png), nil
}

// IsImageDataURL reports whether s looks like an inline image.
func IsImageDataURL(s string) bool {
	return strings.HasPrefix(s, "data:image/")
}
