package uploadmanager

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chunkhaven/chunkd/internal/chunkstore"
	"github.com/chunkhaven/chunkd/internal/statestore"
)

func newManager(t *testing.T) (*Manager, chunkstore.Store) {
	t.Helper()
	dir := t.TempDir()

	store, err := statestore.Open(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	t.Cleanup(store.Close)

	chunks := chunkstore.New(filepath.Join(dir, "scratch"), filepath.Join(dir, "final"))
	return NewManager(store, chunks), chunks
}

func reopenManager(t *testing.T, statePath string, chunks chunkstore.Store) *Manager {
	t.Helper()
	store, err := statestore.Open(statePath)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return NewManager(store, chunks)
}

func chunkPayload(n int, b byte) string {
	return strings.Repeat(string(b), n)
}

// S1: two-chunk round trip.
func TestTwoChunkRoundTrip(t *testing.T) {
	m, chunks := newManager(t)

	ident, err := m.IdentifyUser("")
	require.NoError(t, err)

	upload, err := m.CreateUpload(ident.UserKey, CreateUploadInput{
		FileName: "report.pdf", FileSize: 10, ChunkSize: 6, Persist: true,
	})
	require.NoError(t, err)
	require.Equal(t, 2, upload.TotalChunks)

	_, err = m.RecordChunk(ident.UserKey, upload.ID, 0, strings.NewReader("AAAAAA"))
	require.NoError(t, err)

	outcome, err := m.RecordChunk(ident.UserKey, upload.ID, 1, strings.NewReader("BBBB"))
	require.NoError(t, err)
	require.True(t, outcome.Completed)

	data, err := os.ReadFile(filepath.Join(chunks.FinalDir, upload.ID+"-report.pdf"))
	require.NoError(t, err)
	require.Equal(t, "AAAAAABBBB", string(data))

	snap, err := m.GetUserSnapshot(ident.UserKey)
	require.NoError(t, err)
	require.Empty(t, snap.Active)
	require.Empty(t, snap.Paused)
	require.Len(t, snap.History, 1)
}

// S2: out-of-order, parallel submission.
func TestOutOfOrderParallelChunks(t *testing.T) {
	m, chunks := newManager(t)

	ident, err := m.IdentifyUser("")
	require.NoError(t, err)

	upload, err := m.CreateUpload(ident.UserKey, CreateUploadInput{
		FileName: "blob.bin", FileSize: 9, ChunkSize: 3, Persist: true,
	})
	require.NoError(t, err)
	require.Equal(t, 3, upload.TotalChunks)

	payloads := map[int]string{0: "000", 1: "111", 2: "222"}
	order := []int{2, 0, 1}

	var wg sync.WaitGroup
	var mu sync.Mutex
	completions := 0
	for _, idx := range order {
		idx := idx
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := m.RecordChunk(ident.UserKey, upload.ID, idx, strings.NewReader(payloads[idx]))
			require.NoError(t, err)
			if outcome.Completed {
				mu.Lock()
				completions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, completions)

	data, err := os.ReadFile(filepath.Join(chunks.FinalDir, upload.ID+"-blob.bin"))
	require.NoError(t, err)
	require.Equal(t, "000111222", string(data))
}

// S3: pause/resume.
func TestPauseResume(t *testing.T) {
	m, _ := newManager(t)

	ident, err := m.IdentifyUser("")
	require.NoError(t, err)

	upload, err := m.CreateUpload(ident.UserKey, CreateUploadInput{
		FileName: "video.mp4", FileSize: 18, ChunkSize: 3, Persist: true,
	})
	require.NoError(t, err)
	require.Equal(t, 6, upload.TotalChunks)

	for i := 0; i < 3; i++ {
		_, err := m.RecordChunk(ident.UserKey, upload.ID, i, strings.NewReader(chunkPayload(3, byte('A'+i))))
		require.NoError(t, err)
	}

	_, err = m.UpdateStatus(ident.UserKey, upload.ID, StatusPaused)
	require.NoError(t, err)

	snap, err := m.GetUserSnapshot(ident.UserKey)
	require.NoError(t, err)
	require.Len(t, snap.Paused, 1)
	require.Equal(t, []int{3, 4, 5}, snap.Paused[0].MissingChunks)

	_, err = m.UpdateStatus(ident.UserKey, upload.ID, StatusActive)
	require.NoError(t, err)

	var last RecordOutcome
	for i := 3; i < 6; i++ {
		outcome, err := m.RecordChunk(ident.UserKey, upload.ID, i, strings.NewReader(chunkPayload(3, byte('A'+i))))
		require.NoError(t, err)
		last = outcome
	}
	require.True(t, last.Completed)

	snap, err = m.GetUserSnapshot(ident.UserKey)
	require.NoError(t, err)
	require.Len(t, snap.History, 1)
}

// S4: ephemeral cancel with forget.
func TestEphemeralCancelWithForget(t *testing.T) {
	m, chunks := newManager(t)

	ident, err := m.IdentifyUser("")
	require.NoError(t, err)

	upload, err := m.CreateUpload(ident.UserKey, CreateUploadInput{
		FileName: "temp.dat", FileSize: 9, ChunkSize: 3, Persist: false,
	})
	require.NoError(t, err)

	_, err = m.RecordChunk(ident.UserKey, upload.ID, 0, strings.NewReader("xxx"))
	require.NoError(t, err)

	_, err = m.RemoveUpload(ident.UserKey, upload.ID, true)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(chunks.ScratchDir, upload.ID))
	require.True(t, os.IsNotExist(err))

	snap, err := m.GetUserSnapshot(ident.UserKey)
	require.NoError(t, err)
	require.Empty(t, snap.History)
	require.Empty(t, snap.Active)

	_, ok := m.registry.get(ident.UserKey, upload.ID)
	require.False(t, ok)
}

// S5: persistent cancel without forget.
func TestPersistentCancelWithoutForget(t *testing.T) {
	m, chunks := newManager(t)

	ident, err := m.IdentifyUser("")
	require.NoError(t, err)

	upload, err := m.CreateUpload(ident.UserKey, CreateUploadInput{
		FileName: "notes.txt", FileSize: 9, ChunkSize: 3, Persist: true,
	})
	require.NoError(t, err)

	_, err = m.RecordChunk(ident.UserKey, upload.ID, 0, strings.NewReader("xxx"))
	require.NoError(t, err)

	_, err = m.RemoveUpload(ident.UserKey, upload.ID, false)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(chunks.ScratchDir, upload.ID))
	require.True(t, os.IsNotExist(err))

	snap, err := m.GetUserSnapshot(ident.UserKey)
	require.NoError(t, err)
	require.Len(t, snap.History, 1)
	require.Equal(t, "notes.txt", snap.History[0].FileName)
	require.Equal(t, int64(9), snap.History[0].FileSize)

	_, err = m.GetUpload(ident.UserKey, upload.ID)
	require.ErrorIs(t, err, ErrUploadNotFound)
}

// S6: restart recovery.
func TestRestartRecovery(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	chunks := chunkstore.New(filepath.Join(dir, "scratch"), filepath.Join(dir, "final"))

	store, err := statestore.Open(statePath)
	require.NoError(t, err)
	m := NewManager(store, chunks)

	ident, err := m.IdentifyUser("")
	require.NoError(t, err)

	upload, err := m.CreateUpload(ident.UserKey, CreateUploadInput{
		FileName: "archive.zip", FileSize: 12, ChunkSize: 3, Persist: true,
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := m.RecordChunk(ident.UserKey, upload.ID, i, strings.NewReader(chunkPayload(3, byte('A'+i))))
		require.NoError(t, err)
	}
	store.Close()

	m2 := reopenManager(t, statePath, chunks)

	result, err := m2.GetUpload(ident.UserKey, upload.ID)
	require.NoError(t, err)
	require.Equal(t, LocationPersistent, result.Location)
	require.Equal(t, 2, result.Upload.ReceivedCount)
	require.Equal(t, []int{2, 3}, result.Upload.MissingChunks)

	for i := 2; i < 4; i++ {
		outcome, err := m2.RecordChunk(ident.UserKey, upload.ID, i, strings.NewReader(chunkPayload(3, byte('A'+i))))
		require.NoError(t, err)
		if i == 3 {
			require.True(t, outcome.Completed)
		}
	}
}

// P3: idempotent chunk writes.
func TestIdempotentChunkWrite(t *testing.T) {
	m, chunks := newManager(t)

	ident, err := m.IdentifyUser("")
	require.NoError(t, err)

	upload, err := m.CreateUpload(ident.UserKey, CreateUploadInput{
		FileName: "dup.bin", FileSize: 6, ChunkSize: 3, Persist: true,
	})
	require.NoError(t, err)

	_, err = m.RecordChunk(ident.UserKey, upload.ID, 0, strings.NewReader("AAA"))
	require.NoError(t, err)
	_, err = m.RecordChunk(ident.UserKey, upload.ID, 0, strings.NewReader("ZZZ"))
	require.NoError(t, err)

	outcome, err := m.RecordChunk(ident.UserKey, upload.ID, 1, strings.NewReader("BBB"))
	require.NoError(t, err)
	require.True(t, outcome.Completed)

	data, err := os.ReadFile(filepath.Join(chunks.FinalDir, upload.ID+"-dup.bin"))
	require.NoError(t, err)
	require.Equal(t, "AAABBB", string(data))
}

// P5: history cap at 200 entries.
func TestHistoryCap(t *testing.T) {
	m, _ := newManager(t)

	ident, err := m.IdentifyUser("")
	require.NoError(t, err)

	const total = 205
	for i := 0; i < total; i++ {
		upload, err := m.CreateUpload(ident.UserKey, CreateUploadInput{
			FileName: "f.bin", FileSize: 1, ChunkSize: 1, Persist: true,
		})
		require.NoError(t, err)
		_, err = m.RecordChunk(ident.UserKey, upload.ID, 0, strings.NewReader("x"))
		require.NoError(t, err)
	}

	snap, err := m.GetUserSnapshot(ident.UserKey)
	require.NoError(t, err)
	require.Len(t, snap.History, MaxHistoryEntries)
}

// P6: ephemeral uploads never land in the persisted document while active.
func TestEphemeralNeverPersistedWhileActive(t *testing.T) {
	m, _ := newManager(t)

	ident, err := m.IdentifyUser("")
	require.NoError(t, err)

	upload, err := m.CreateUpload(ident.UserKey, CreateUploadInput{
		FileName: "scratchwork.tmp", FileSize: 3, ChunkSize: 3, Persist: false,
	})
	require.NoError(t, err)

	v, err := m.store.ReadState(func(doc *statestore.Document) (any, error) {
		for _, raw := range doc.Users {
			if strings.Contains(string(raw), upload.ID) {
				return true, nil
			}
		}
		return false, nil
	})
	require.NoError(t, err)
	require.False(t, v.(bool))
}

func TestChunkOutOfRangeRejected(t *testing.T) {
	m, _ := newManager(t)

	ident, err := m.IdentifyUser("")
	require.NoError(t, err)

	upload, err := m.CreateUpload(ident.UserKey, CreateUploadInput{
		FileName: "small.bin", FileSize: 3, ChunkSize: 3, Persist: true,
	})
	require.NoError(t, err)

	_, err = m.RecordChunk(ident.UserKey, upload.ID, 5, strings.NewReader("x"))
	require.ErrorIs(t, err, ErrChunkOutOfRange)
}

func TestClearHistory(t *testing.T) {
	m, _ := newManager(t)

	ident, err := m.IdentifyUser("")
	require.NoError(t, err)

	upload, err := m.CreateUpload(ident.UserKey, CreateUploadInput{
		FileName: "one.bin", FileSize: 1, ChunkSize: 1, Persist: true,
	})
	require.NoError(t, err)
	_, err = m.RecordChunk(ident.UserKey, upload.ID, 0, strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, m.ClearHistory(ident.UserKey))

	snap, err := m.GetUserSnapshot(ident.UserKey)
	require.NoError(t, err)
	require.Empty(t, snap.History)
}
