package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateOpenReadAt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table_00000000000000000000")
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	f, err := Create(path, data, false)
	require.NoError(t, err)
	defer f.Close()

	got, err := f.ReadAt(2, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{3, 4, 5, 6}, got)

	opened, err := Open(path, false)
	require.NoError(t, err)
	defer opened.Close()

	all, err := opened.ReadAll()
	require.NoError(t, err)
	require.Equal(t, data, all)
}

func TestChecksumRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table_with_checksum")
	data := []byte("some payload bytes")

	f, err := Create(path, data, true)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	opened, err := Open(path, true)
	require.NoError(t, err)
	defer opened.Close()

	all, err := opened.ReadAll()
	require.NoError(t, err)
	require.Equal(t, data, all)
}

func TestChecksumMismatchDetected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table_corrupt")
	data := []byte("some payload bytes")

	f, err := Create(path, data, true)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Corrupt one byte of the payload in place.
	corrupted, err := Open(path, false)
	require.NoError(t, err)
	require.NoError(t, corrupted.Close())

	raw, err := Open(path, false)
	require.NoError(t, err)
	content, err := raw.ReadAll()
	require.NoError(t, err)
	require.NoError(t, raw.Close())
	content[0] ^= 0xFF
	_, err = Create(path, content, false)
	require.NoError(t, err)

	_, err = Open(path, true)
	require.Error(t, err)
}

func TestDeleteRemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table_delete_me")
	f, err := Create(path, []byte("x"), false)
	require.NoError(t, err)
	require.NoError(t, f.Delete())

	_, err = Open(path, false)
	require.Error(t, err)
}
