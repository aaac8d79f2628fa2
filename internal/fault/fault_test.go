package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, Validation, KindOf(New(Validation, "bad manifest")))
	assert.Equal(t, Storage, KindOf(Wrap(Storage, errors.New("io"), "flush failed")))

	// Untagged errors classify as fatal.
	assert.Equal(t, Fatal, KindOf(errors.New("plain")))
}

func TestKindOfUnwrapsChains(t *testing.T) {
	inner := New(Extraction, "engine timeout")
	outer := fmt.Errorf("page 3: %w", inner)
	assert.Equal(t, Extraction, KindOf(outer))
	assert.True(t, Is(outer, Extraction))
	assert.False(t, Is(outer, Storage))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(Validation, nil, "should vanish"))
}

func TestErrorMessages(t *testing.T) {
	err := Wrap(Storage, errors.New("disk full"), "batch %d", 4)
	assert.Equal(t, "storage: batch 4: disk full", err.Error())
	assert.Equal(t, "validation: empty file", New(Validation, "empty file").Error())
}
