package models

// Filters is the server-side channel filter object. The cache treats it
// as opaque apart from canonicalizing it into a fingerprint.
type Filters map[string]any

// SortField is one ordering criterion. Direction follows the wire
// convention: -1 descending, 1 ascending.
type SortField struct {
	Field     string `json:"field"`
	Direction int    `json:"direction"`
}

// Sort is an ordered list of criteria; earlier entries win.
type Sort []SortField
