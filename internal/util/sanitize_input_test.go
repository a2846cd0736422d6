package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "admin@example.com", "admin@example.com"},
		{"case and spaces", "  Admin@Example.COM ", "admin@example.com"},
		{"empty", "   ", ""},
		{"display name", "Admin <admin@example.com>", ""},
		{"no at sign", "admin.example.com", ""},
		{"template chars", "${jndi}@example.com", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeEmail(tt.in))
		})
	}
}

func TestContainsSuspicious(t *testing.T) {
	assert.True(t, ContainsSuspicious("<SCRIPT>"))
	assert.True(t, ContainsSuspicious("x onload=y"))
	assert.False(t, ContainsSuspicious("ops@dealer.example"))
}

func TestSessionRef_Sanitize(t *testing.T) {
	f := SessionRef("abcdefghijklmnop")
	assert.Equal(t, "abcdefgh", f.String)

	f = SessionRef("abc")
	assert.Equal(t, "abc", f.String)
}
