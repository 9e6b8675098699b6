package otpauth

import (
	"encoding/json"
	"errors"
	"regexp"
)

// Kind selects the code family of a credential.
type Kind string

const (
	KindTOTP Kind = "totp"
	KindHOTP Kind = "hotp"
)

// Algorithm names the HMAC hash used for code generation.
type Algorithm string

const (
	AlgorithmSHA1   Algorithm = "SHA1"
	AlgorithmSHA256 Algorithm = "SHA256"
	AlgorithmSHA512 Algorithm = "SHA512"
	AlgorithmMD5    Algorithm = "MD5"
)

const (
	// DefaultAlgorithm applies when a URI carries no algorithm parameter.
	DefaultAlgorithm = AlgorithmSHA1
	// DefaultDigits applies when a URI carries no digits parameter.
	DefaultDigits = 6
	// DefaultPeriod applies when a totp URI carries no period parameter.
	DefaultPeriod = 30
	// DefaultIssuer applies when neither the query nor the path names one.
	DefaultIssuer = "Unknown"

	MinDigits = 4
	MaxDigits = 10
)

var (
	ErrInvalidURI       = errors.New("otpauth: invalid uri")
	ErrMissingField     = errors.New("otpauth: missing field")
	ErrInvalidSecret    = errors.New("otpauth: invalid secret")
	ErrInvalidAlgorithm = errors.New("otpauth: invalid algorithm")
	ErrInvalidDigits    = errors.New("otpauth: invalid digits")
	ErrInvalidPeriod    = errors.New("otpauth: invalid period")
	ErrInvalidCounter   = errors.New("otpauth: invalid counter")
)

// secretPattern is the Base32 alphabet with optional trailing padding.
// Decodability is not checked here; code generation surfaces that.
var secretPattern = regexp.MustCompile(`(?i)^[A-Z2-7]+=*$`)

// Credential is one OTP registration. Period is meaningful only for
// KindTOTP and Counter only for KindHOTP; the inactive field stays zero.
type Credential struct {
	Kind      Kind      `json:"type"`
	Label     string    `json:"label"`
	Secret    string    `json:"secret"`
	Issuer    string    `json:"issuer"`
	Algorithm Algorithm `json:"algorithm"`
	Digits    int       `json:"digits"`
	Period    int       `json:"period"`
	Counter   int64     `json:"counter"`
}

func (a Algorithm) valid() bool {
	switch a {
	case AlgorithmSHA1, AlgorithmSHA256, AlgorithmSHA512, AlgorithmMD5:
		return true
	}
	return false
}

// Validate checks the field invariants shared by Parse and Build.
func (c Credential) Validate() error {
	if c.Kind != KindTOTP && c.Kind != KindHOTP {
		return ErrInvalidURI
	}
	if c.Secret == "" {
		return ErrMissingField
	}
	if c.Label == "" {
		return ErrMissingField
	}
	if !secretPattern.MatchString(c.Secret) {
		return ErrInvalidSecret
	}
	if !c.Algorithm.valid() {
		return ErrInvalidAlgorithm
	}
	if c.Digits < MinDigits || c.Digits > MaxDigits {
		return ErrInvalidDigits
	}
	if c.Kind == KindTOTP {
		if c.Period < 1 {
			return ErrInvalidPeriod
		}
		if c.Counter != 0 {
			return ErrInvalidCounter
		}
		return nil
	}
	if c.Counter < 0 {
		return ErrInvalidCounter
	}
	if c.Period != 0 {
		return ErrInvalidPeriod
	}
	return nil
}

// MarshalJSON emits only the window field that matches Kind, so stored
// records carry period or counter, never both.
func (c Credential) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type      Kind      `json:"type"`
		Label     string    `json:"label"`
		Secret    string    `json:"secret"`
		Issuer    string    `json:"issuer"`
		Algorithm Algorithm `json:"algorithm"`
		Digits    int       `json:"digits"`
		Period    *int      `json:"period,omitempty"`
		Counter   *int64    `json:"counter,omitempty"`
	}
	w := wire{
		Type:      c.Kind,
		Label:     c.Label,
		Secret:    c.Secret,
		Issuer:    c.Issuer,
		Algorithm: c.Algorithm,
		Digits:    c.Digits,
	}
	switch c.Kind {
	case KindHOTP:
		w.Counter = &c.Counter
	default:
		w.Period = &c.Period
	}
	return json.Marshal(w)
}
