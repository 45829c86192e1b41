package models

import (
	"errors"
	"strings"
)

// ErrEmptyQuery is returned when a query is blank after trimming.
var ErrEmptyQuery = errors.New("query cannot be empty")

// SearchQuery is a retrieval request. K is the number of passages wanted.
type SearchQuery struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

// Validate trims the query, rejects blank input, and clamps K into [1, maxK],
// using defaultK when K is unset.
func (q *SearchQuery) Validate(defaultK, maxK int) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return ErrEmptyQuery
	}
	if q.K <= 0 {
		q.K = defaultK
	}
	if maxK > 0 && q.K > maxK {
		q.K = maxK
	}
	return nil
}
