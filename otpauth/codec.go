package otpauth

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const scheme = "otpauth://"

// Parse decodes an otpauth:// provisioning URI into a Credential.
//
// The path is either "issuer:label" or a bare label, split on the first
// colon. Query parameters override path data: secret is required, issuer
// falls back to the path issuer and then to DefaultIssuer, algorithm
// defaults to SHA1, digits to 6, period to 30 (totp) and counter to 0
// (hotp). The secret is canonicalized to uppercase.
func Parse(uri string) (Credential, error) {
	var c Credential

	if !strings.HasPrefix(uri, scheme) {
		return c, fmt.Errorf("%w: missing otpauth scheme", ErrInvalidURI)
	}
	rest := uri[len(scheme):]

	var rawQuery string
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rest, rawQuery = rest[:i], rest[i+1:]
	}
	host, rawPath, _ := strings.Cut(rest, "/")

	switch Kind(strings.ToLower(host)) {
	case KindTOTP:
		c.Kind = KindTOTP
	case KindHOTP:
		c.Kind = KindHOTP
	default:
		return c, fmt.Errorf("%w: unknown type %q", ErrInvalidURI, host)
	}

	pathIssuer, rawLabel, found := strings.Cut(rawPath, ":")
	if !found {
		pathIssuer, rawLabel = "", rawPath
	}
	label, err := url.PathUnescape(rawLabel)
	if err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	pathIssuer, err = url.PathUnescape(pathIssuer)
	if err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}

	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	get := func(key, fallback string) string {
		if v := params.Get(key); v != "" {
			return v
		}
		return fallback
	}

	secret := params.Get("secret")
	issuer := get("issuer", pathIssuer)
	if issuer == "" {
		issuer = DefaultIssuer
	}
	algorithm := strings.ToUpper(get("algorithm", string(DefaultAlgorithm)))

	if secret == "" {
		return c, fmt.Errorf("%w: secret", ErrMissingField)
	}
	if label == "" {
		return c, fmt.Errorf("%w: label", ErrMissingField)
	}
	if !secretPattern.MatchString(secret) {
		return c, fmt.Errorf("%w: not base32", ErrInvalidSecret)
	}
	if !Algorithm(algorithm).valid() {
		return c, fmt.Errorf("%w: %q", ErrInvalidAlgorithm, algorithm)
	}
	digits, err := strconv.Atoi(get("digits", strconv.Itoa(DefaultDigits)))
	if err != nil || digits < MinDigits || digits > MaxDigits {
		return c, fmt.Errorf("%w: %q", ErrInvalidDigits, get("digits", ""))
	}

	c.Label = label
	c.Secret = strings.ToUpper(secret)
	c.Issuer = issuer
	c.Algorithm = Algorithm(algorithm)
	c.Digits = digits

	switch c.Kind {
	case KindTOTP:
		period, err := strconv.Atoi(get("period", strconv.Itoa(DefaultPeriod)))
		if err != nil || period < 1 {
			return c, fmt.Errorf("%w: %q", ErrInvalidPeriod, get("period", ""))
		}
		c.Period = period
	case KindHOTP:
		counter, err := strconv.ParseInt(get("counter", "0"), 10, 64)
		if err != nil || counter < 0 {
			return c, fmt.Errorf("%w: %q", ErrInvalidCounter, get("counter", ""))
		}
		c.Counter = counter
	}
	return c, nil
}

// Build serializes a Credential back into an otpauth:// URI. The output
// need not match the parsed input byte for byte, but Parse(Build(c))
// always yields a Credential equal to c.
func Build(c Credential) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString(string(c.Kind))
	b.WriteByte('/')
	b.WriteString(escapeSegment(c.Issuer))
	b.WriteByte(':')
	b.WriteString(escapeSegment(c.Label))
	b.WriteString("?secret=")
	b.WriteString(url.QueryEscape(c.Secret))
	b.WriteString("&issuer=")
	b.WriteString(url.QueryEscape(c.Issuer))
	b.WriteString("&algorithm=")
	b.WriteString(string(c.Algorithm))
	b.WriteString("&digits=")
	b.WriteString(strconv.Itoa(c.Digits))
	if c.Kind == KindTOTP {
		b.WriteString("&period=")
		b.WriteString(strconv.Itoa(c.Period))
	} else {
		b.WriteString("&counter=")
		b.WriteString(strconv.FormatInt(c.Counter, 10))
	}
	return b.String(), nil
}

// escapeSegment percent-encodes a path segment. The colon must be encoded
// by hand because it separates issuer from label, and url.PathEscape
// leaves it alone.
func escapeSegment(s string) string {
	return strings.ReplaceAll(url.PathEscape(s), ":", "%3A")
}
