package sigil

import (
	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"
)

// RenderQR returns a terminal-printable QR code of a sigil.
func RenderQR(text string) (string, error) {
	qr, err := qrcode.New(text, qrcode.Low)
	if err != nil {
		return "", errors.Wrap(err, "encode qr code")
	}
	return qr.ToSmallString(false), nil
}
