package uploadmanager

import "time"

// Status is the lifecycle state of an upload.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// MaxHistoryEntries is the cap on the number of history entries retained
// per user, newest first.
const MaxHistoryEntries = 200

// UploadMetadata is the durable (or in-memory, for ephemeral uploads)
// record of a single upload in progress.
type UploadMetadata struct {
	ID          string       `json:"id"`
	UserKey     string       `json:"userKey"`
	FileName    string       `json:"fileName"`
	FileSize    int64        `json:"fileSize"`
	ChunkSize   int64        `json:"chunkSize"`
	TotalChunks int          `json:"totalChunks"`
	Persist     bool         `json:"persist"`
	Status      Status       `json:"status"`
	Received    map[int]bool `json:"receivedChunks"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}

func (m *UploadMetadata) clone() *UploadMetadata {
	cp := *m
	cp.Received = make(map[int]bool, len(m.Received))
	for k, v := range m.Received {
		cp.Received[k] = v
	}
	return &cp
}

// missingChunks returns the sorted, ascending list of indices in
// [0, TotalChunks) that are absent from Received.
func (m *UploadMetadata) missingChunks() []int {
	missing := make([]int, 0, m.TotalChunks-len(m.Received))
	for i := 0; i < m.TotalChunks; i++ {
		if !m.Received[i] {
			missing = append(missing, i)
		}
	}
	return missing
}

func (m *UploadMetadata) receivedCount() int {
	return len(m.Received)
}

// HistoryEntry is the terminal, immutable summary of a completed or
// cancelled upload.
type HistoryEntry struct {
	ID          string    `json:"id"`
	FileName    string    `json:"fileName"`
	FileSize    int64     `json:"fileSize"`
	ChunkSize   int64     `json:"chunkSize"`
	TotalChunks int       `json:"totalChunks"`
	Persist     bool      `json:"persist"`
	CompletedAt time.Time `json:"completedAt"`
}

func historyEntryFrom(m *UploadMetadata, completedAt time.Time) HistoryEntry {
	return HistoryEntry{
		ID:          m.ID,
		FileName:    m.FileName,
		FileSize:    m.FileSize,
		ChunkSize:   m.ChunkSize,
		TotalChunks: m.TotalChunks,
		Persist:     m.Persist,
		CompletedAt: completedAt,
	}
}

// UserRecord is the durable record owned by the State Store: one per user,
// holding their persistent in-flight uploads and their history.
type UserRecord struct {
	Key       string                     `json:"key"`
	CreatedAt time.Time                  `json:"createdAt"`
	Uploads   map[string]*UploadMetadata `json:"uploads"`
	History   []HistoryEntry             `json:"history"`
}

func newUserRecord(key string, now time.Time) *UserRecord {
	return &UserRecord{
		Key:       key,
		CreatedAt: now,
		Uploads:   map[string]*UploadMetadata{},
		History:   []HistoryEntry{},
	}
}

func (r *UserRecord) pushHistory(entry HistoryEntry, cap int) {
	r.History = append([]HistoryEntry{entry}, r.History...)
	if len(r.History) > cap {
		r.History = r.History[:cap]
	}
}

// Location reports where an upload's live metadata lives.
type Location string

const (
	LocationMemory     Location = "memory"
	LocationPersistent Location = "persistent"
)

// DecoratedUpload is UploadMetadata plus the fields that spec.md calls
// "derived (never persisted, computed on read)".
type DecoratedUpload struct {
	UploadMetadata
	MissingChunks []int `json:"missingChunks"`
	ReceivedCount int   `json:"receivedCount"`
}

func decorate(m *UploadMetadata) DecoratedUpload {
	return DecoratedUpload{
		UploadMetadata: *m,
		MissingChunks:  m.missingChunks(),
		ReceivedCount:  m.receivedCount(),
	}
}

// Snapshot is the triple returned to a client describing all of a user's
// uploads.
type Snapshot struct {
	Active  []DecoratedUpload `json:"active"`
	Paused  []DecoratedUpload `json:"paused"`
	History []HistoryEntry    `json:"history"`
}
