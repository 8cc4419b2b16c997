package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"550e8400-e29b-41d4-a716-446655440000", true},
		{"550E8400-E29B-41D4-A716-446655440000", true},
		{"", false},
		{"not-a-uuid", false},
		{"12345", false},
		{"550e8400-e29b-41d4-a716-44665544000", false},  // one short
		{"550e8400-e29b-41d4-a716-4466554400zz", false}, // non-hex
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, validID(tt.id), "id %q", tt.id)
	}
}
