package models

import "encoding/json"

// NoMatchMessage is the message carried by the no-match sentinel.
const NoMatchMessage = "No relevant info found."

// QueryResult is a single ranked hit, or the no-match sentinel when Message is set.
type QueryResult struct {
	ID       int64           `json:"id"`
	Score    float64         `json:"score"`
	Metadata *MetadataRecord `json:"metadata"`
	Message  string          `json:"message,omitempty"`
}

// NoMatchResult returns the sentinel signalling that no candidate met the relevance threshold.
func NoMatchResult() *QueryResult {
	return &QueryResult{Message: NoMatchMessage}
}

// IsNoMatch reports whether r is the no-match sentinel.
func (r *QueryResult) IsNoMatch() bool {
	return r != nil && r.Message != ""
}

// MarshalJSON encodes hits as {id, score, metadata} and the sentinel as {message}.
func (r *QueryResult) MarshalJSON() ([]byte, error) {
	if r.IsNoMatch() {
		return json.Marshal(struct {
			Message string `json:"message"`
		}{r.Message})
	}
	type hit QueryResult
	return json.Marshal((*hit)(r))
}

// Results is an ordered result list, highest score first.
type Results []*QueryResult

// NoMatch reports whether the list is exactly the no-match sentinel.
func (rs Results) NoMatch() bool {
	return len(rs) == 1 && rs[0].IsNoMatch()
}

// Hits returns the ranked hits, or nil for the no-match sentinel.
func (rs Results) Hits() []*QueryResult {
	if rs.NoMatch() {
		return nil
	}
	return rs
}

// QueryResponse is the API response for a query.
type QueryResponse struct {
	Query     string  `json:"query"`
	TopK      int     `json:"top_k"`
	Results   Results `json:"results"`
	QueryTime int64   `json:"query_time_ms"`
}

// StoreStats describes a vector store's state.
type StoreStats struct {
	State      string `json:"state"`
	Vectors    int    `json:"vectors"`
	Dimensions int    `json:"dimensions"`
	NextID     int64  `json:"next_id"`
	Model      string `json:"model"`
	IndexType  string `json:"index_type"`
	Directory  string `json:"directory"`
}

// StatusResponse is returned by the status endpoint and command.
type StatusResponse struct {
	Documents      int64       `json:"documents"`
	Chunks         int64       `json:"chunks"`
	Store          *StoreStats `json:"store"`
	DiskUsageBytes *int64      `json:"disk_usage_bytes,omitempty"`
}
