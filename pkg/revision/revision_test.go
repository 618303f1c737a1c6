package revision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		in     string
		length int
		ok     bool
	}{
		{"abcd123", 7, true},
		{"abcd12", 7, false},
		{"abcd1234", 7, false},
		{"", 7, false},
		{"abcd1234", 8, true},
	} {
		id, err := Parse(tc.in, tc.length)
		if tc.ok {
			assert.NoError(t, err, tc.in)
			assert.Equal(t, ID(tc.in), id)
		} else {
			assert.Error(t, err, tc.in)
			assert.Equal(t, None, id)
		}
	}
}

func TestShorten(t *testing.T) {
	assert.Equal(t, ID("abcd123"), Shorten("abcd1234567890abcdef\n", 7))
	assert.Equal(t, ID("abc"), Shorten("abc", 7))
}

func TestIn(t *testing.T) {
	id := ID("abcd123")
	assert.True(t, id.In("login.dev.anosrep.org (abcd123)"))
	assert.False(t, id.In("login.dev.anosrep.org (9999999)"))
	assert.False(t, None.In("anything"))
}
