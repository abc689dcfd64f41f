// Package uploadmanager implements the upload lifecycle coordinator
// described in spec.md §4.4: id allocation, chunk receipt tracking,
// durable/in-memory metadata, and pause/resume/cancel/forget transitions.
//
// It is the domain-specific analogue of tusd's pkg/handler.UnroutedHandler
// combined with a DataStore implementation: where tusd drives a single
// append-only file per upload through HTTP header semantics (Upload-Offset,
// Upload-Length, ...), the Manager drives a directory of <i>.part files
// through an explicit chunk-index API, and additionally owns the
// persistent/ephemeral split and the user-history bookkeeping that tusd
// has no equivalent of.
package uploadmanager

import (
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/chunkhaven/chunkd/internal/chunkstore"
	"github.com/chunkhaven/chunkd/internal/idgen"
	"github.com/chunkhaven/chunkd/internal/metrics"
	"github.com/chunkhaven/chunkd/internal/statestore"
)

// Clock is injectable for deterministic tests, grounded on the same
// "never call time.Now() directly from business logic" discipline the
// teacher applies to randomness (internal/uid always goes through
// crypto/rand rather than a package-level global).
type Clock func() time.Time

// Manager is the upload lifecycle coordinator. It is safe for concurrent
// use by multiple goroutines, matching the concurrency contract HTTP
// servers require of their handlers' dependencies.
type Manager struct {
	store      *statestore.Store
	chunks     chunkstore.Store
	registry   *registry
	locks      *keyedLock
	log        *slog.Logger
	metrics    *metrics.Metrics
	historyCap int
	now        Clock
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithLogger overrides the default logger (slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithMetrics attaches a metrics sink. A nil sink (the default) disables
// metrics recording.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// WithClock overrides the time source, for tests.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.now = c }
}

// WithHistoryCap overrides the default per-user history retention limit
// (MaxHistoryEntries).
func WithHistoryCap(n int) Option {
	return func(m *Manager) { m.historyCap = n }
}

// NewManager constructs a Manager and re-drives any upload left stalled
// between "all chunks marked" and "finalize" by a previous crash, per
// spec.md §9's open question (resolved here as option (a): re-drive on
// startup).
func NewManager(store *statestore.Store, chunks chunkstore.Store, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		chunks:     chunks,
		registry:   newRegistry(),
		locks:      newKeyedLock(),
		log:        slog.Default(),
		historyCap: MaxHistoryEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.redriveStalledUploads()
	return m
}

// --- user record marshalling helpers -------------------------------------

func loadUserRecord(doc *statestore.Document, userKey string) (*UserRecord, bool) {
	raw, ok := doc.Users[userKey]
	if !ok {
		return nil, false
	}
	var rec UserRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false
	}
	if rec.Uploads == nil {
		rec.Uploads = map[string]*UploadMetadata{}
	}
	return &rec, true
}

func saveUserRecord(doc *statestore.Document, rec *UserRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	doc.Users[rec.Key] = data
	return nil
}

// --- identifyUser ----------------------------------------------------------

// IdentifyResult is the outcome of IdentifyUser.
type IdentifyResult struct {
	UserKey string
	Created bool
}

// IdentifyUser implements spec.md §4.4 identifyUser.
func (m *Manager) IdentifyUser(requestedKey string) (IdentifyResult, error) {
	if requestedKey != "" {
		v, err := m.store.ReadState(func(doc *statestore.Document) (any, error) {
			_, ok := doc.Users[requestedKey]
			return ok, nil
		})
		if err != nil {
			return IdentifyResult{}, err
		}
		if v.(bool) {
			m.registry.ensureUser(requestedKey)
			return IdentifyResult{UserKey: requestedKey, Created: false}, nil
		}
	}

	v, err := m.store.WithState(func(doc *statestore.Document) (any, error) {
		var id string
		for {
			id = idgen.UserID()
			if _, exists := doc.Users[id]; !exists {
				break
			}
		}
		rec := newUserRecord(id, m.now())
		if err := saveUserRecord(doc, rec); err != nil {
			return nil, err
		}
		return id, nil
	})
	if err != nil {
		return IdentifyResult{}, err
	}

	id := v.(string)
	m.registry.ensureUser(id)
	if m.metrics != nil {
		m.metrics.UsersCreated.Inc()
	}
	return IdentifyResult{UserKey: id, Created: true}, nil
}

// --- getUserSnapshot ---------------------------------------------------

// GetUserSnapshot implements spec.md §4.4 getUserSnapshot.
func (m *Manager) GetUserSnapshot(userKey string) (Snapshot, error) {
	m.redriveUserUploads(userKey)

	v, err := m.store.ReadState(func(doc *statestore.Document) (any, error) {
		rec, ok := loadUserRecord(doc, userKey)
		if !ok {
			return nil, nil
		}
		history := append([]HistoryEntry{}, rec.History...)
		uploads := make([]*UploadMetadata, 0, len(rec.Uploads))
		for _, u := range rec.Uploads {
			uploads = append(uploads, u)
		}
		return struct {
			history []HistoryEntry
			uploads []*UploadMetadata
		}{history, uploads}, nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Active: []DecoratedUpload{}, Paused: []DecoratedUpload{}, History: []HistoryEntry{}}
	found := v != nil
	if found {
		row := v.(struct {
			history []HistoryEntry
			uploads []*UploadMetadata
		})
		snap.History = row.history
		partitionInto(&snap, row.uploads)
	}

	ephemeral := m.registry.listByUser(userKey)
	partitionInto(&snap, ephemeral)

	if !found && len(ephemeral) == 0 {
		return Snapshot{}, ErrUserNotFound
	}

	sortByCreatedAt(snap.Active)
	sortByCreatedAt(snap.Paused)

	return snap, nil
}

func partitionInto(snap *Snapshot, uploads []*UploadMetadata) {
	for _, u := range uploads {
		switch u.Status {
		case StatusPaused:
			snap.Paused = append(snap.Paused, decorate(u))
		default:
			snap.Active = append(snap.Active, decorate(u))
		}
	}
}

func sortByCreatedAt(uploads []DecoratedUpload) {
	sort.Slice(uploads, func(i, j int) bool {
		return uploads[i].CreatedAt.Before(uploads[j].CreatedAt)
	})
}

// --- createUpload -------------------------------------------------------

// CreateUploadInput is the request shape for CreateUpload.
type CreateUploadInput struct {
	FileName  string
	FileSize  int64
	ChunkSize int64
	Persist   bool
}

// CreateUpload implements spec.md §4.4 createUpload.
func (m *Manager) CreateUpload(userKey string, in CreateUploadInput) (DecoratedUpload, error) {
	if in.FileSize <= 0 || in.ChunkSize <= 0 {
		return DecoratedUpload{}, ErrInvalidSizes
	}

	totalChunks := int((in.FileSize + in.ChunkSize - 1) / in.ChunkSize)
	now := m.now()
	meta := &UploadMetadata{
		ID:          idgen.UploadID(),
		UserKey:     userKey,
		FileName:    in.FileName,
		FileSize:    in.FileSize,
		ChunkSize:   in.ChunkSize,
		TotalChunks: totalChunks,
		Persist:     in.Persist,
		Status:      StatusActive,
		Received:    map[int]bool{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if in.Persist {
		_, err := m.store.WithState(func(doc *statestore.Document) (any, error) {
			rec, ok := loadUserRecord(doc, userKey)
			if !ok {
				rec = newUserRecord(userKey, now)
			}
			rec.Uploads[meta.ID] = meta
			return nil, saveUserRecord(doc, rec)
		})
		if err != nil {
			return DecoratedUpload{}, err
		}
	} else {
		m.registry.put(meta)
	}

	if err := m.chunks.CreateUploadDir(meta.ID); err != nil {
		return DecoratedUpload{}, err
	}

	if m.metrics != nil {
		m.metrics.UploadsCreated.Inc()
	}
	m.log.Info("upload created", "uploadId", meta.ID, "userKey", userKey, "persist", in.Persist, "totalChunks", totalChunks)

	return decorate(meta), nil
}

// --- getUpload ----------------------------------------------------------

// GetUploadResult is the outcome of GetUpload.
type GetUploadResult struct {
	Location Location
	Upload   DecoratedUpload
}

// GetUpload implements spec.md §4.4 getUpload.
func (m *Manager) GetUpload(userKey, uploadID string) (GetUploadResult, error) {
	m.redriveOne(userKey, uploadID)

	if meta, ok := m.registry.get(userKey, uploadID); ok {
		return GetUploadResult{Location: LocationMemory, Upload: decorate(meta)}, nil
	}

	v, err := m.store.ReadState(func(doc *statestore.Document) (any, error) {
		rec, ok := loadUserRecord(doc, userKey)
		if !ok {
			return nil, nil
		}
		meta, ok := rec.Uploads[uploadID]
		if !ok {
			return nil, nil
		}
		return decorate(meta), nil
	})
	if err != nil {
		return GetUploadResult{}, err
	}
	if v == nil {
		return GetUploadResult{}, ErrUploadNotFound
	}

	return GetUploadResult{Location: LocationPersistent, Upload: v.(DecoratedUpload)}, nil
}

// lookup returns the location and a pointer usable only for reading
// immutable fields (TotalChunks, Persist, FileName); the pointer must not
// be mutated outside of the appropriate lock.
func (m *Manager) lookup(userKey, uploadID string) (Location, *UploadMetadata, error) {
	if meta, ok := m.registry.get(userKey, uploadID); ok {
		return LocationMemory, meta, nil
	}

	v, err := m.store.ReadState(func(doc *statestore.Document) (any, error) {
		rec, ok := loadUserRecord(doc, userKey)
		if !ok {
			return nil, nil
		}
		meta, ok := rec.Uploads[uploadID]
		if !ok {
			return nil, nil
		}
		return meta, nil
	})
	if err != nil {
		return "", nil, err
	}
	if v == nil {
		return "", nil, ErrUploadNotFound
	}
	return LocationPersistent, v.(*UploadMetadata), nil
}

// --- recordChunk ----------------------------------------------------------

// RecordOutcome is the result of RecordChunk: the upload's current
// decorated state, and whether this particular call was the one that
// observed completion (spec.md P2).
type RecordOutcome struct {
	Upload    DecoratedUpload
	Completed bool
}

// RecordChunk implements spec.md §4.4 recordChunk: it writes the chunk
// bytes via the Chunk Store (step 1) and then marks the index received
// (step 2), so callers only need to supply the raw chunk body.
func (m *Manager) RecordChunk(userKey, uploadID string, index int, data io.Reader) (RecordOutcome, error) {
	loc, meta, err := m.lookup(userKey, uploadID)
	if err != nil {
		return RecordOutcome{}, err
	}
	if index < 0 || index >= meta.TotalChunks {
		return RecordOutcome{}, ErrChunkOutOfRange
	}

	written, err := m.chunks.WriteChunk(uploadID, index, data)
	if err != nil {
		return RecordOutcome{}, err
	}

	var outcome RecordOutcome
	if loc == LocationPersistent {
		v, err := m.store.WithState(func(doc *statestore.Document) (any, error) {
			rec, ok := loadUserRecord(doc, userKey)
			if !ok {
				return nil, ErrUploadNotFound
			}
			upload, ok := rec.Uploads[uploadID]
			if !ok {
				return nil, ErrUploadNotFound
			}
			return m.markReceived(upload, index), saveUserRecord(doc, rec)
		})
		if err != nil {
			return RecordOutcome{}, err
		}
		outcome = v.(RecordOutcome)
	} else {
		v, err := m.locks.withLock(uploadID, func() (any, error) {
			upload, ok := m.registry.get(userKey, uploadID)
			if !ok {
				return nil, ErrUploadNotFound
			}
			return m.markReceived(upload, index), nil
		})
		if err != nil {
			return RecordOutcome{}, err
		}
		outcome = v.(RecordOutcome)
	}

	if m.metrics != nil {
		m.metrics.ChunksReceived.Inc()
		m.metrics.BytesReceived.Add(float64(written))
	}

	if outcome.Completed {
		finished, err := m.completeUpload(loc, userKey, uploadID)
		if err != nil {
			// Metadata still carries every index as received; the next
			// GetUpload or GetUserSnapshot call for this upload re-drives
			// assembly (redriveOne). Re-submitting a chunk does not.
			m.log.Warn("assembly failed after final chunk", "uploadId", uploadID, "error", err)
			return outcome, err
		}
		outcome.Upload = finished
	}

	return outcome, nil
}

func (m *Manager) markReceived(upload *UploadMetadata, index int) RecordOutcome {
	// Completion is re-derived from the before/after state rather than
	// compared against a single flipped bit, since marking an already-
	// received index must stay a no-op (spec.md P3).
	wasComplete := len(upload.missingChunks()) == 0
	if upload.Received == nil {
		upload.Received = make(map[int]bool, upload.TotalChunks)
	}
	upload.Received[index] = true
	upload.Status = StatusActive
	upload.UpdatedAt = m.now()
	isComplete := len(upload.missingChunks()) == 0
	return RecordOutcome{Upload: decorate(upload), Completed: isComplete && !wasComplete}
}

// --- updateStatus -----------------------------------------------------

// UpdateStatus implements spec.md §4.4 updateStatus.
func (m *Manager) UpdateStatus(userKey, uploadID string, status Status) (DecoratedUpload, error) {
	loc, _, err := m.lookup(userKey, uploadID)
	if err != nil {
		return DecoratedUpload{}, err
	}

	if loc == LocationPersistent {
		v, err := m.store.WithState(func(doc *statestore.Document) (any, error) {
			rec, ok := loadUserRecord(doc, userKey)
			if !ok {
				return nil, ErrUploadNotFound
			}
			upload, ok := rec.Uploads[uploadID]
			if !ok {
				return nil, ErrUploadNotFound
			}
			upload.Status = status
			upload.UpdatedAt = m.now()
			return decorate(upload), saveUserRecord(doc, rec)
		})
		if err != nil {
			return DecoratedUpload{}, err
		}
		return v.(DecoratedUpload), nil
	}

	v, err := m.locks.withLock(uploadID, func() (any, error) {
		upload, ok := m.registry.get(userKey, uploadID)
		if !ok {
			return nil, ErrUploadNotFound
		}
		upload.Status = status
		upload.UpdatedAt = m.now()
		return decorate(upload), nil
	})
	if err != nil {
		return DecoratedUpload{}, err
	}
	return v.(DecoratedUpload), nil
}

// --- finalize & remove --------------------------------------------------

// completeUpload assembles the upload's chunks into its final artifact and
// moves its metadata into history. It is used both by RecordChunk, when a
// submission completes the set, and by the startup/read-time re-drive
// logic for uploads stranded between "all chunks marked" and "finalize".
func (m *Manager) completeUpload(loc Location, userKey, uploadID string) (DecoratedUpload, error) {
	_, meta, err := m.lookup(userKey, uploadID)
	if err != nil {
		return DecoratedUpload{}, err
	}

	if _, err := m.chunks.Assemble(uploadID, meta.FileName, meta.TotalChunks); err != nil {
		if m.metrics != nil {
			m.metrics.AssemblyFailures.Inc()
		}
		if mc, ok := err.(*chunkstore.MissingChunkError); ok {
			return DecoratedUpload{}, missingChunkError(mc.Index)
		}
		return DecoratedUpload{}, err
	}

	completedAt := m.now()
	entry := historyEntryFrom(meta, completedAt)

	if loc == LocationPersistent {
		_, err := m.store.WithState(func(doc *statestore.Document) (any, error) {
			rec, ok := loadUserRecord(doc, userKey)
			if !ok {
				rec = newUserRecord(userKey, completedAt)
			}
			delete(rec.Uploads, uploadID)
			rec.pushHistory(entry, m.historyCap)
			return nil, saveUserRecord(doc, rec)
		})
		if err != nil {
			return DecoratedUpload{}, err
		}
	} else {
		if _, err := m.store.WithState(func(doc *statestore.Document) (any, error) {
			rec, ok := loadUserRecord(doc, userKey)
			if !ok {
				rec = newUserRecord(userKey, completedAt)
			}
			rec.pushHistory(entry, m.historyCap)
			return nil, saveUserRecord(doc, rec)
		}); err != nil {
			return DecoratedUpload{}, err
		}
		m.registry.delete(userKey, uploadID)
	}

	meta.Status = StatusCompleted
	meta.CompletedAt = &completedAt
	meta.UpdatedAt = completedAt

	if m.metrics != nil {
		m.metrics.UploadsCompleted.Inc()
	}
	m.log.Info("upload completed", "uploadId", uploadID, "userKey", userKey)

	return decorate(meta), nil
}

// RemoveUpload implements spec.md §4.4 removeUpload.
func (m *Manager) RemoveUpload(userKey, uploadID string, forget bool) (DecoratedUpload, error) {
	loc, meta, err := m.lookup(userKey, uploadID)
	if err != nil {
		return DecoratedUpload{}, err
	}

	result := decorate(meta)
	entry := historyEntryFrom(meta, m.now())

	if loc == LocationPersistent {
		_, err := m.store.WithState(func(doc *statestore.Document) (any, error) {
			rec, ok := loadUserRecord(doc, userKey)
			if !ok {
				return nil, ErrUploadNotFound
			}
			delete(rec.Uploads, uploadID)
			if !forget {
				rec.pushHistory(entry, m.historyCap)
			}
			return nil, saveUserRecord(doc, rec)
		})
		if err != nil {
			return DecoratedUpload{}, err
		}
	} else {
		m.registry.delete(userKey, uploadID)
		if !forget {
			if _, err := m.store.WithState(func(doc *statestore.Document) (any, error) {
				rec, ok := loadUserRecord(doc, userKey)
				if !ok {
					rec = newUserRecord(userKey, m.now())
				}
				rec.pushHistory(entry, m.historyCap)
				return nil, saveUserRecord(doc, rec)
			}); err != nil {
				return DecoratedUpload{}, err
			}
		}
	}

	if err := m.chunks.PurgeScratch(uploadID); err != nil {
		return DecoratedUpload{}, err
	}

	if m.metrics != nil {
		m.metrics.UploadsCancelled.Inc()
	}
	m.log.Info("upload removed", "uploadId", uploadID, "userKey", userKey, "forget", forget)

	return result, nil
}

// --- clearHistory -------------------------------------------------------

// ClearHistory implements spec.md §4.4 clearHistory.
func (m *Manager) ClearHistory(userKey string) error {
	_, err := m.store.WithState(func(doc *statestore.Document) (any, error) {
		rec, ok := loadUserRecord(doc, userKey)
		if !ok {
			return nil, ErrUserNotFound
		}
		rec.History = []HistoryEntry{}
		return nil, saveUserRecord(doc, rec)
	})
	return err
}

// --- startup / read-time re-drive ----------------------------------------

// redriveStalledUploads scans every persistent user record once at startup
// and completes any upload whose chunks are all present but whose status
// never advanced to completed, per spec.md §9.
func (m *Manager) redriveStalledUploads() {
	type stalled struct {
		userKey, uploadID string
	}

	v, err := m.store.ReadState(func(doc *statestore.Document) (any, error) {
		var found []stalled
		for key, raw := range doc.Users {
			var rec UserRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				continue
			}
			for id, u := range rec.Uploads {
				if u.Status != StatusCompleted && len(u.missingChunks()) == 0 {
					found = append(found, stalled{key, id})
				}
			}
		}
		return found, nil
	})
	if err != nil {
		m.log.Warn("failed to scan for stalled uploads", "error", err)
		return
	}

	for _, s := range v.([]stalled) {
		if _, err := m.completeUpload(LocationPersistent, s.userKey, s.uploadID); err != nil {
			m.log.Warn("failed to re-drive stalled upload", "uploadId", s.uploadID, "error", err)
		} else {
			m.log.Info("re-drove stalled upload on startup", "uploadId", s.uploadID)
		}
	}
}

// redriveOne re-drives a single upload if it is stalled, identified by
// location the same way lookup resolves it.
func (m *Manager) redriveOne(userKey, uploadID string) {
	loc, meta, err := m.lookup(userKey, uploadID)
	if err != nil || meta.Status == StatusCompleted || len(meta.missingChunks()) != 0 {
		return
	}
	if _, err := m.completeUpload(loc, userKey, uploadID); err != nil {
		m.log.Warn("failed to re-drive upload", "uploadId", uploadID, "error", err)
	}
}

// redriveUserUploads re-drives every stalled upload belonging to userKey,
// used before building a snapshot.
func (m *Manager) redriveUserUploads(userKey string) {
	for _, meta := range m.registry.listByUser(userKey) {
		if meta.Status != StatusCompleted && len(meta.missingChunks()) == 0 {
			m.redriveOne(userKey, meta.ID)
		}
	}

	v, err := m.store.ReadState(func(doc *statestore.Document) (any, error) {
		rec, ok := loadUserRecord(doc, userKey)
		if !ok {
			return nil, nil
		}
		var ids []string
		for id, u := range rec.Uploads {
			if u.Status != StatusCompleted && len(u.missingChunks()) == 0 {
				ids = append(ids, id)
			}
		}
		return ids, nil
	})
	if err != nil || v == nil {
		return
	}
	for _, id := range v.([]string) {
		m.redriveOne(userKey, id)
	}
}
