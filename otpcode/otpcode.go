// Package otpcode turns credentials into the codes they display.
package otpcode

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"github.com/pquerna/otp/totp"

	"github.com/j3fcruz/TokenX/otpauth"
)

// ErrGeneration wraps every code-generation failure: an invalid credential,
// an unsupported algorithm, or a secret that is not decodable Base32.
// Display code treats it as "code unavailable" and keeps running.
var ErrGeneration = errors.New("otpcode: generation failed")

// secretBytes is the entropy of manually provisioned secrets, 160 bits as
// in RFC 4226's reference parameters.
const secretBytes = 20

// Generate returns the code a credential shows at the given instant. For
// totp credentials the window is floor(unix/period); for hotp the stored
// counter is used as is and is never advanced here.
func Generate(c otpauth.Credential, at time.Time) (string, error) {
	if err := c.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	alg, err := algorithmOf(c.Algorithm)
	if err != nil {
		return "", err
	}

	switch c.Kind {
	case otpauth.KindTOTP:
		code, err := totp.GenerateCodeCustom(c.Secret, at, totp.ValidateOpts{
			Period:    uint(c.Period),
			Digits:    otp.Digits(c.Digits),
			Algorithm: alg,
		})
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrGeneration, err)
		}
		return code, nil
	default:
		code, err := hotp.GenerateCodeCustom(c.Secret, uint64(c.Counter), hotp.ValidateOpts{
			Digits:    otp.Digits(c.Digits),
			Algorithm: alg,
		})
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrGeneration, err)
		}
		return code, nil
	}
}

// Remaining returns the seconds left in a totp credential's current window,
// or 0 for hotp credentials.
func Remaining(c otpauth.Credential, at time.Time) int {
	if c.Kind != otpauth.KindTOTP || c.Period < 1 {
		return 0
	}
	return c.Period - int(at.Unix()%int64(c.Period))
}

// NewSecret returns a fresh random secret in Base32 for manual
// provisioning.
func NewSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}
	return base32.StdEncoding.EncodeToString(raw), nil
}

func algorithmOf(a otpauth.Algorithm) (otp.Algorithm, error) {
	switch a {
	case otpauth.AlgorithmSHA1:
		return otp.AlgorithmSHA1, nil
	case otpauth.AlgorithmSHA256:
		return otp.AlgorithmSHA256, nil
	case otpauth.AlgorithmSHA512:
		return otp.AlgorithmSHA512, nil
	case otpauth.AlgorithmMD5:
		return otp.AlgorithmMD5, nil
	}
	return 0, fmt.Errorf("%w: unsupported algorithm %q", ErrGeneration, a)
}
