package totp

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"

	"github.com/pquerna/otp"
)

// QRRenderer turns an enrollment URI into an image data URI.
type QRRenderer interface {
	RenderPNG(uri string) (string, error)
}

// PNGRenderer renders square QR codes through the otp key image encoder.
type PNGRenderer struct {
	Size int
}

func NewPNGRenderer(size int) *PNGRenderer {
	if size <= 0 {
		size = 200
	}
	return &PNGRenderer{Size: size}
}

func (r *PNGRenderer) RenderPNG(uri string) (string, error) {
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return "", fmt.Errorf("parse enrollment URI: %w", err)
	}
	img, err := key.Image(r.Size, r.Size)
	if err != nil {
		return "", fmt.Errorf("render QR: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode QR: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
