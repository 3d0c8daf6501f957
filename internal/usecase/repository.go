package usecase

import "context"

// BlobStore is the persistence substrate: an async key/value blob store with
// atomic per-key writes and no cross-key transactions. The service keeps one
// key for the session index and one key per session for its request list.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, blob []byte) error
	Delete(ctx context.Context, key string) error
}

type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

// SearchFields selects which record fields a text search scans.
type SearchFields struct {
	URL             bool `json:"url"`
	RequestHeaders  bool `json:"requestHeaders"`
	RequestBody     bool `json:"requestBody"`
	ResponseHeaders bool `json:"responseHeaders"`
	ResponseBody    bool `json:"responseBody"`
}

type Search struct {
	Query  string       `json:"query"`
	Fields SearchFields `json:"fields"`
}

type Settings struct {
	Pagination Pagination `json:"pagination"`
}
