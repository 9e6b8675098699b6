// Package qr renders provisioning QR images and moves them through plain
// or encrypted export files. Pixel decoding stays behind an interface; the
// program ships without a decoder.
package qr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/pquerna/otp"

	"github.com/j3fcruz/TokenX/otpauth"
)

// EncryptedExt marks exported images wrapped in a raw binary envelope.
const EncryptedExt = ".enc"

// imageSize is the exported QR edge length in pixels.
const imageSize = 256

// ErrNoDecoder is returned when an image import would need pixel decoding.
var ErrNoDecoder = errors.New("qr: no decoder available")

// Sealer wraps payload bytes in a raw encrypted envelope. Opener reverses
// it. The unlocked vault satisfies both.
type Sealer interface {
	SealBinary(data []byte) ([]byte, error)
}

type Opener interface {
	OpenBinary(data []byte) ([]byte, error)
}

// Decoder extracts an otpauth URI from image pixels.
type Decoder interface {
	Decode(img image.Image) (string, error)
}

// EncodePNG renders the credential's provisioning URI as a QR PNG.
func EncodePNG(c otpauth.Credential) ([]byte, error) {
	uri, err := otpauth.Build(c)
	if err != nil {
		return nil, err
	}
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return nil, fmt.Errorf("qr: %w", err)
	}
	img, err := key.Image(imageSize, imageSize)
	if err != nil {
		return nil, fmt.Errorf("qr: render: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("qr: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportPlain writes the credential's QR image as a readable PNG.
func ExportPlain(c otpauth.Credential, path string) error {
	data, err := EncodePNG(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("qr: write %s: %w", path, err)
	}
	return nil
}

// ExportEncrypted writes the credential's QR image as raw envelope bytes.
// Image exports are the binary shape of the envelope; no base64 layer is
// applied.
func ExportEncrypted(c otpauth.Credential, s Sealer, path string) error {
	data, err := EncodePNG(c)
	if err != nil {
		return err
	}
	env, err := s.SealBinary(data)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, env, 0o600); err != nil {
		return fmt.Errorf("qr: write %s: %w", path, err)
	}
	return nil
}

// ImportFile reads a provisioning image, decrypting it first when the
// path carries EncryptedExt, decodes the QR through dec and parses the
// resulting URI.
func ImportFile(path string, o Opener, dec Decoder) (otpauth.Credential, error) {
	var c otpauth.Credential
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("qr: read %s: %w", path, err)
	}
	if filepath.Ext(path) == EncryptedExt {
		if o == nil {
			return c, errors.New("qr: encrypted image needs an unlocked vault")
		}
		data, err = o.OpenBinary(data)
		if err != nil {
			return c, err
		}
	}
	if dec == nil {
		return c, ErrNoDecoder
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return c, fmt.Errorf("qr: read image: %w", err)
	}
	uri, err := dec.Decode(img)
	if err != nil {
		return c, fmt.Errorf("qr: decode: %w", err)
	}
	return otpauth.Parse(uri)
}
