package chunkstore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) Store {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "scratch"), filepath.Join(dir, "final"))
}

func TestWriteChunkIsIdempotent(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.CreateUploadDir("up1"))

	n, err := s.WriteChunk("up1", 0, bytes.NewBufferString("AAAAAA"))
	require.NoError(t, err)
	require.EqualValues(t, 6, n)

	// Second write with different bytes must be skipped, keeping the first.
	n, err = s.WriteChunk("up1", 0, bytes.NewBufferString("ZZZZZZ"))
	require.NoError(t, err)
	require.EqualValues(t, 0, n)

	data, err := os.ReadFile(s.partPath("up1", 0))
	require.NoError(t, err)
	require.Equal(t, "AAAAAA", string(data))
}

func TestAssembleFidelity(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.CreateUploadDir("up2"))
	_, err := s.WriteChunk("up2", 0, bytes.NewBufferString("AAAAAA"))
	require.NoError(t, err)
	_, err = s.WriteChunk("up2", 1, bytes.NewBufferString("BBBB"))
	require.NoError(t, err)

	finalPath, err := s.Assemble("up2", "report.txt", 2)
	require.NoError(t, err)

	data, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	require.Equal(t, "AAAAAABBBB", string(data))
	require.Equal(t, filepath.Join(s.FinalDir, "up2-report.txt"), finalPath)

	_, err = os.Stat(s.uploadDir("up2"))
	require.True(t, os.IsNotExist(err))
}

func TestAssembleMissingChunkLeavesNoFinalFile(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.CreateUploadDir("up3"))
	_, err := s.WriteChunk("up3", 0, bytes.NewBufferString("AAAAAA"))
	require.NoError(t, err)
	// Chunk 1 never arrives.

	_, err = s.Assemble("up3", "report.txt", 2)
	require.Error(t, err)
	var missing *MissingChunkError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, 1, missing.Index)

	entries, _ := os.ReadDir(s.FinalDir)
	for _, e := range entries {
		require.NotContains(t, e.Name(), "up3-")
	}
}

func TestSafeFileName(t *testing.T) {
	require.Equal(t, "name.tar.gz", SafeFileName("my file/name.tar.gz"))
	require.Equal(t, "passwd", SafeFileName("../../etc/passwd"))
}
