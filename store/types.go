package store

import "time"

// SearchRequest is one /v1/search invocation.
type SearchRequest struct {
	ID          string
	Query       string
	ResultCount int
	CreatedAt   time.Time
}

// SearchResultRecord is a cached search result, readable until expiry.
type SearchResultRecord struct {
	ResultID     string
	RequestID    string
	Query        string
	Rank         int
	URL          string
	Domain       string
	Title        string
	Snippet      string
	Source       string
	Availability string // allowed | blocked
	BlockReason  string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// FetchEvent is one trace of the fetch pipeline.
type FetchEvent struct {
	ID              int64
	ResultID        string // "" for direct fetches
	URL             string
	Domain          string
	Decision        string // allow | block
	Score           int
	Flags           []string
	Reason          string
	BlockedBy       string // "" on allow
	AllowedBy       string // "" unless classified
	DomainAction    string // allow-bypass | block | inspect
	MediumThreshold int
	BlockThreshold  int
	Bypassed        bool
	DurationMs      int64
	TraceKind       string // search-result-fetch | direct-web-fetch | unknown
	SearchRequestID string
	SearchQuery     string
	SearchRank      int
	CreatedAt       time.Time
}

// maxPayloadContent bounds the sanitized text persisted with a block.
const maxPayloadContent = 30_000

// FlaggedPayload is the persisted evidence for a block decision.
type FlaggedPayload struct {
	ID           string
	FetchEventID int64
	ResultID     string
	URL          string
	Domain       string
	Score        int
	Flags        []string
	Evidence     []byte // JSON array of evidence matches
	Reason       string
	Content      string // sanitized text, capped at maxPayloadContent chars
	CreatedAt    time.Time
}

// RuntimeDomainEntry is one runtime allow- or blocklist row.
type RuntimeDomainEntry struct {
	Domain  string
	Note    string
	AddedAt time.Time
}
