package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ShapeAndAlphabet(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := New()
		require.Len(t, id, Length)
		require.True(t, Valid(id), "generated id %q should be valid", id)
		require.NotContains(t, id, "=")
	}
}

func TestNew_NoCollisions(t *testing.T) {
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id := New()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %q", id)
		seen[id] = struct{}{}
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"generated", New(), true},
		{"empty", "", false},
		{"too short", "abc", false},
		{"too long", strings.Repeat("a", Length+1), false},
		{"std base64 plus", strings.Repeat("a", Length-1) + "+", false},
		{"slash", strings.Repeat("a", Length-1) + "/", false},
		{"url alphabet", strings.Repeat("-", Length/2) + strings.Repeat("_", Length/2), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Valid(tt.id))
		})
	}
}
