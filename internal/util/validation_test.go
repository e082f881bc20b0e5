package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"+15550001234", "+15550001234"},
		{" +1 (555) 000-1234 ", "+15550001234"},
		{"0015550001234", "+15550001234"},
		{"+20 155 050 4273", "+201550504273"},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.expected, NormalizeIdentifier(tc.input))
		})
	}
}

func TestIsValidIdentifier(t *testing.T) {
	assert.True(t, IsValidIdentifier("+15550001234"))
	assert.True(t, IsValidIdentifier("+201550504273"))
	assert.False(t, IsValidIdentifier("15550001234"))
	assert.False(t, IsValidIdentifier("+0123456789"))
	assert.False(t, IsValidIdentifier("+1"))
	assert.False(t, IsValidIdentifier(""))
}

func TestIsValidCode(t *testing.T) {
	assert.True(t, IsValidCode("12345"))
	assert.False(t, IsValidCode("12a45"))
	assert.False(t, IsValidCode(""))
	assert.False(t, IsValidCode("123"))
}
