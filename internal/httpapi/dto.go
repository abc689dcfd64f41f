package httpapi

// Request/response DTOs for the routes in spec.md §6. Validation tags
// replace the hand-rolled `if x == "" { return err }` chains the teacher
// uses for header parsing in pkg/handler/unrouted_handler.go — we parse
// JSON bodies instead of headers, so a struct-tag validator is the
// idiomatic equivalent.

type identifyRequest struct {
	UserKey string `json:"userKey"`
}

type createUploadRequest struct {
	UserKey   string `json:"userKey" validate:"required"`
	FileName  string `json:"fileName" validate:"required"`
	FileSize  int64  `json:"fileSize" validate:"required,gt=0"`
	ChunkSize int64  `json:"chunkSize" validate:"required,gt=0"`
	Persist   bool   `json:"persist"`
}

type stateActionRequest struct {
	UserKey string `json:"userKey" validate:"required"`
	Action  string `json:"action" validate:"required,oneof=pause resume cancel forget"`
}

type clearHistoryRequest struct {
	UserKey string `json:"userKey" validate:"required"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type probeResponse struct {
	Bytes     int64 `json:"bytes"`
	ElapsedMs int64 `json:"elapsedMs"`
}
