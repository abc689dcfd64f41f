// Package chunkstore manages the on-disk scratch directories that hold
// chunk bytes while an upload is in flight, and assembles them into a
// single final artifact once every chunk has arrived.
//
// WriteChunk's idempotent-on-index behavior and Assemble's sequential
// append loop are grounded on tusd's pkg/filestore.fileUpload: WriteChunk
// generalizes its O_WRONLY|O_APPEND single-file-per-upload layout into one
// file per chunk, and Assemble generalizes fileUpload.ConcatUploads's
// io.Copy loop over partial uploads into a loop over <i>.part files.
package chunkstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
)

var defaultFilePerm = os.FileMode(0o664)
var defaultDirPerm = os.FileMode(0o775)

// unsafeFileNameChar matches any character not allowed to pass through
// safeFileName unescaped.
var unsafeFileNameChar = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SafeFileName sanitizes name (after stripping any directory components)
// so it is safe to use as part of a filesystem path.
func SafeFileName(name string) string {
	base := filepath.Base(name)
	return unsafeFileNameChar.ReplaceAllString(base, "_")
}

// Store holds the scratch (in-progress) and final (assembled) directories.
type Store struct {
	ScratchDir string
	FinalDir   string
}

// New returns a Store rooted at scratchDir/finalDir. The directories are
// not required to exist yet; they are created lazily as needed.
func New(scratchDir, finalDir string) Store {
	return Store{ScratchDir: scratchDir, FinalDir: finalDir}
}

func (s Store) uploadDir(uploadID string) string {
	return filepath.Join(s.ScratchDir, uploadID)
}

func (s Store) partPath(uploadID string, index int) string {
	return filepath.Join(s.uploadDir(uploadID), fmt.Sprintf("%d.part", index))
}

// CreateUploadDir creates the scratch directory for a newly created upload.
func (s Store) CreateUploadDir(uploadID string) error {
	if err := os.MkdirAll(s.uploadDir(uploadID), defaultDirPerm); err != nil {
		return fmt.Errorf("chunkstore: create scratch dir: %w", err)
	}
	return nil
}

// WriteChunk writes data to the part file for the given upload/index and
// reports the number of bytes written. If the part file already exists,
// the write is skipped (0, nil is returned), making repeated submissions
// of the same index idempotent. Signature grounded on tusd's
// fileUpload.WriteChunk(ctx, offset, src) (int64, error).
func (s Store) WriteChunk(uploadID string, index int, data io.Reader) (int64, error) {
	if err := os.MkdirAll(s.uploadDir(uploadID), defaultDirPerm); err != nil {
		return 0, fmt.Errorf("chunkstore: create scratch dir: %w", err)
	}

	path := s.partPath(uploadID, index)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, defaultFilePerm)
	if errors.Is(err, os.ErrExist) {
		// Another caller already wrote this index; idempotent no-op.
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("chunkstore: open part file: %w", err)
	}

	n, copyErr := io.Copy(file, data)
	closeErr := file.Close()
	if copyErr != nil {
		os.Remove(path)
		return 0, fmt.Errorf("chunkstore: write part file: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(path)
		return 0, fmt.Errorf("chunkstore: close part file: %w", closeErr)
	}
	return n, nil
}

// MissingChunkError reports that assembly was aborted because a part file
// was absent even though the caller believed it had been received.
type MissingChunkError struct {
	Index int
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("missing_chunk_%d", e.Index)
}

// Assemble concatenates totalChunks part files for uploadID, in ascending
// order, into a single file at <FinalDir>/<uploadID>-<safeFileName> and
// removes the scratch directory on success. It writes to a temporary file
// first and renames it into place only once every part has been copied, so
// a failure never leaves a partial file at the final path.
func (s Store) Assemble(uploadID, fileName string, totalChunks int) (string, error) {
	if err := os.MkdirAll(s.FinalDir, defaultDirPerm); err != nil {
		return "", fmt.Errorf("chunkstore: create final dir: %w", err)
	}

	finalPath := filepath.Join(s.FinalDir, uploadID+"-"+SafeFileName(fileName))
	tmp, err := os.CreateTemp(s.FinalDir, ".assemble-"+uploadID+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("chunkstore: create temp output: %w", err)
	}
	tmpPath := tmp.Name()

	if err := s.copyParts(tmp, uploadID, totalChunks); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("chunkstore: close temp output: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("chunkstore: rename into place: %w", err)
	}

	if err := s.PurgeScratch(uploadID); err != nil {
		return finalPath, err
	}

	return finalPath, nil
}

func (s Store) copyParts(dst io.Writer, uploadID string, totalChunks int) error {
	for i := 0; i < totalChunks; i++ {
		path := s.partPath(uploadID, i)
		part, err := os.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			return &MissingChunkError{Index: i}
		}
		if err != nil {
			return fmt.Errorf("chunkstore: open part %d: %w", i, err)
		}

		_, copyErr := io.Copy(dst, part)
		part.Close()
		if copyErr != nil {
			return fmt.Errorf("chunkstore: copy part %d: %w", i, copyErr)
		}
	}
	return nil
}

// PurgeScratch recursively removes the scratch directory for uploadID.
// Removing an already-absent directory is not an error.
func (s Store) PurgeScratch(uploadID string) error {
	if err := os.RemoveAll(s.uploadDir(uploadID)); err != nil {
		return fmt.Errorf("chunkstore: purge scratch dir: %w", err)
	}
	return nil
}
