package models

// SearchResult is one retrieved passage. Score is the similarity under the
// index metric; higher is closer.
type SearchResult struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Rank     int                    `json:"rank"`
}

// SearchResponse is the response for a search request. Results are ordered by
// non-increasing score and never exceed K.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	K         int             `json:"k"`
	Namespace string          `json:"namespace"`
	QueryTime int64           `json:"query_time_ms"`
	Query     string          `json:"query"`
}

// Answer is the tool-call contract consumed by the dialogue agent.
// Response is nil when nothing was retrieved.
type Answer struct {
	Response   *string `json:"response"`
	NumResults int     `json:"num_results"`
}
