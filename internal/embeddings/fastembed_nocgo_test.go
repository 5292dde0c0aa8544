//go:build !cgo

package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewProvider_FastEmbedWithoutCGO(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Provider: "fastembed", Model: "BAAI/bge-small-en-v1.5"}, nil)
	assert.ErrorIs(t, err, ErrFastEmbedNotAvailable)
}
