package omitnilpointers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOmitNilPointers(t *testing.T) {
	attempts := 3
	var quality *string

	got := OmitNilPointers(map[string]any{
		"sync_attempts":   &attempts,
		"network_quality": quality,
		"host_id":         "a",
		"missing":         nil,
	})

	assert.Equal(t, map[string]any{
		"sync_attempts": 3,
		"host_id":       "a",
	}, got)
}
