package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamscao/certguard/pkg/digest"
)

func TestLookupHash(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "cert.pdf")
	require.NoError(t, os.WriteFile(artifact, []byte("hello"), 0600))
	helloHash := digest.Sum([]byte("hello"))

	t.Cleanup(func() { lookupFile = "" })

	t.Run("file", func(t *testing.T) {
		lookupFile = artifact
		defer func() { lookupFile = "" }()

		got, err := lookupHash(nil)
		require.NoError(t, err)
		assert.Equal(t, helloHash, got)
	})

	t.Run("hash argument is normalized", func(t *testing.T) {
		got, err := lookupHash([]string{"0x" + helloHash})
		require.NoError(t, err)
		assert.Equal(t, helloHash, got)
	})

	t.Run("both", func(t *testing.T) {
		lookupFile = artifact
		defer func() { lookupFile = "" }()

		_, err := lookupHash([]string{helloHash})
		assert.Error(t, err)
	})

	t.Run("neither", func(t *testing.T) {
		_, err := lookupHash(nil)
		assert.Error(t, err)
	})

	t.Run("invalid hash", func(t *testing.T) {
		_, err := lookupHash([]string{"xyz"})
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		lookupFile = filepath.Join(t.TempDir(), "absent.pdf")
		defer func() { lookupFile = "" }()

		_, err := lookupHash(nil)
		assert.Error(t, err)
	})
}
