package totp

import (
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	Period     = 30
	Skew       = 1
	SecretSize = 20
)

var ErrInvalidSecret = errors.New("invalid TOTP secret")

// Engine issues and checks RFC 6238 codes (HMAC-SHA1, 6 digits, 30s steps).
type Engine struct {
	issuer string
}

func NewEngine(issuer string) *Engine {
	return &Engine{issuer: issuer}
}

func (e *Engine) Issuer() string {
	return e.issuer
}

func (e *Engine) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    Period,
		Skew:      Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// GenerateSecret returns a fresh base32 secret carrying 160 bits of entropy.
func (e *Engine) GenerateSecret() (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: "pending",
		Period:      Period,
		SecretSize:  SecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("generate TOTP secret: %w", err)
	}
	return key.Secret(), nil
}

// BuildEnrollmentURI returns the otpauth://totp URI for secret and label.
func (e *Engine) BuildEnrollmentURI(secret, accountLabel string) (string, error) {
	raw, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: accountLabel,
		Period:      Period,
		Secret:      raw,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("build enrollment URI: %w", err)
	}
	return key.URL(), nil
}

// Verify reports whether code matches the step containing at or either
// neighbouring step. Malformed input is a mismatch, not an error.
func (e *Engine) Verify(secret, code string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if secret == "" || len(code) != int(otp.DigitsSix) {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, at.UTC(), e.opts())
	return err == nil && ok
}

// GenerateCode returns the code for the step containing at.
func (e *Engine) GenerateCode(secret string, at time.Time) (string, error) {
	if _, err := decodeSecret(secret); err != nil {
		return "", err
	}
	return totp.GenerateCodeCustom(secret, at.UTC(), e.opts())
}

// Step is the RFC 6238 counter for at.
func Step(at time.Time) uint64 {
	return uint64(at.Unix()) / Period
}

func decodeSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.TrimSpace(secret))
	s = strings.TrimRight(s, "=")
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(s)
	if err != nil || len(raw) == 0 {
		return nil, ErrInvalidSecret
	}
	return raw, nil
}
