package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestSearchQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *SearchQuery
		wantErr error
		wantK   int
		wantQ   string
	}{
		{"empty query", &SearchQuery{Query: ""}, ErrEmptyQuery, 0, ""},
		{"whitespace query", &SearchQuery{Query: " \n\t "}, ErrEmptyQuery, 0, ""},
		{"default k", &SearchQuery{Query: "hello"}, nil, 6, "hello"},
		{"trims", &SearchQuery{Query: "  hello  ", K: 3}, nil, 3, "hello"},
		{"caps k", &SearchQuery{Query: "x", K: 500}, nil, 50, "x"},
		{"negative k uses default", &SearchQuery{Query: "x", K: -2}, nil, 6, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate(6, 50)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if tt.query.K != tt.wantK {
				t.Errorf("K = %d, want %d", tt.query.K, tt.wantK)
			}
			if tt.query.Query != tt.wantQ {
				t.Errorf("Query = %q, want %q", tt.query.Query, tt.wantQ)
			}
		})
	}
}

func TestAnswer_JSON(t *testing.T) {
	data, err := json.Marshal(Answer{})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"response":null,"num_results":0}` {
		t.Errorf("empty answer JSON = %s", data)
	}

	text := "first\nsecond"
	data, err = json.Marshal(Answer{Response: &text, NumResults: 2})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"response":"first\nsecond","num_results":2}` {
		t.Errorf("answer JSON = %s", data)
	}
}
