package totp

import (
	"encoding/base32"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const knownSecret = "JBSWY3DPEHPK3PXP"

func stepTime(step int64) time.Time {
	return time.Unix(step*Period, 0)
}

func TestEngine_GenerateSecret(t *testing.T) {
	e := NewEngine("AutoMarket Admin")

	a, err := e.GenerateSecret()
	require.NoError(t, err)
	b, err := e.GenerateSecret()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(a)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(raw)*8, 128)
}

func TestEngine_BuildEnrollmentURI(t *testing.T) {
	e := NewEngine("AutoMarket Admin")

	uri, err := e.BuildEnrollmentURI(knownSecret, "admin@example.com")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "otpauth://totp/"))

	u, err := url.Parse(uri)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, knownSecret, q.Get("secret"))
	assert.Equal(t, "AutoMarket Admin", q.Get("issuer"))
	assert.Equal(t, "SHA1", q.Get("algorithm"))
	assert.Equal(t, "6", q.Get("digits"))
	assert.Equal(t, "30", q.Get("period"))
	assert.Contains(t, u.Path, "admin@example.com")

	t.Run("should reject a non-base32 secret", func(t *testing.T) {
		_, err := e.BuildEnrollmentURI("not base32!", "admin@example.com")
		assert.ErrorIs(t, err, ErrInvalidSecret)
	})
}

func TestEngine_VerifyWindow(t *testing.T) {
	e := NewEngine("AutoMarket Admin")
	now := time.Unix(1700000000, 0)
	require.Equal(t, uint64(56666666), Step(now))

	for _, step := range []int64{56666665, 56666666, 56666667} {
		code, err := e.GenerateCode(knownSecret, stepTime(step))
		require.NoError(t, err)
		assert.True(t, e.Verify(knownSecret, code, now), "step %d should verify", step)
	}

	for _, step := range []int64{56666664, 56666668} {
		code, err := e.GenerateCode(knownSecret, stepTime(step))
		require.NoError(t, err)
		assert.False(t, e.Verify(knownSecret, code, now), "step %d should be rejected", step)
	}
}

func TestEngine_VerifyWholeStep(t *testing.T) {
	e := NewEngine("AutoMarket Admin")
	start := stepTime(56666666)
	code, err := e.GenerateCode(knownSecret, start)
	require.NoError(t, err)

	for _, offset := range []time.Duration{0, 10 * time.Second, 29 * time.Second} {
		assert.True(t, e.Verify(knownSecret, code, start.Add(offset)))
	}
}

func TestEngine_VerifyMalformed(t *testing.T) {
	e := NewEngine("AutoMarket Admin")
	now := time.Unix(1700000000, 0)

	assert.False(t, e.Verify(knownSecret, "", now))
	assert.False(t, e.Verify(knownSecret, "12345", now))
	assert.False(t, e.Verify(knownSecret, "1234567", now))
	assert.False(t, e.Verify("", "123456", now))
}

func TestPNGRenderer(t *testing.T) {
	e := NewEngine("AutoMarket Admin")
	uri, err := e.BuildEnrollmentURI(knownSecret, "admin@example.com")
	require.NoError(t, err)

	out, err := NewPNGRenderer(0).RenderPNG(uri)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "data:image/png;base64,"))

	_, err = NewPNGRenderer(64).RenderPNG("://bad")
	assert.Error(t, err)
}
