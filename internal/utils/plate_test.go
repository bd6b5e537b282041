package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePlate(t *testing.T) {
	tests := []struct {
		given    string
		expected string
	}{
		{"dl 12345", "DL12345"},
		{"DL-12345", "DL12345"},
		{"dl·12345 ", "DL12345"},
		{"", ""},
		{"---", ""},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, NormalizePlate(test.given))
	}
}

func TestIsValidPlate(t *testing.T) {
	assert.True(t, IsValidPlate("DL12345"))
	assert.False(t, IsValidPlate("DL1234"))
	assert.False(t, IsValidPlate("D112345"))
	assert.False(t, IsValidPlate("DL123456"))
	assert.False(t, IsValidPlate(""))
}
