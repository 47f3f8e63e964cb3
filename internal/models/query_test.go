package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestQueryRequest_Validate(t *testing.T) {
	tests := []struct {
		name     string
		query    *QueryRequest
		wantErr  bool
		wantTopK int
	}{
		{"empty query", &QueryRequest{Query: ""}, true, 0},
		{"sets default top_k", &QueryRequest{Query: "x"}, false, 3},
		{"negative top_k uses default", &QueryRequest{Query: "x", TopK: -2}, false, 3},
		{"keeps top_k", &QueryRequest{Query: "x", TopK: 7}, false, 7},
		{"caps top_k", &QueryRequest{Query: "x", TopK: 500}, false, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate(3, 50)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.query.TopK != tt.wantTopK {
				t.Errorf("TopK = %d, want %d", tt.query.TopK, tt.wantTopK)
			}
		})
	}
}

func TestQueryResult_JSON(t *testing.T) {
	hit := &QueryResult{ID: 0, Score: 0.75, Metadata: &MetadataRecord{ID: 0, Text: "hello", Source: "faq.txt"}}
	b, err := json.Marshal(hit)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	if !strings.Contains(s, `"id":0`) || !strings.Contains(s, `"score":0.75`) {
		t.Errorf("hit JSON missing fields: %s", s)
	}
	if strings.Contains(s, "message") {
		t.Errorf("hit JSON should not carry message: %s", s)
	}

	b, err = json.Marshal(Results{NoMatchResult()})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `[{"message":"No relevant info found."}]` {
		t.Errorf("sentinel JSON = %s", b)
	}
}

func TestResults_NoMatch(t *testing.T) {
	if !(Results{NoMatchResult()}).NoMatch() {
		t.Error("sentinel list should report NoMatch")
	}
	rs := Results{{ID: 1, Score: 0.9}}
	if rs.NoMatch() {
		t.Error("hit list should not report NoMatch")
	}
	if len(rs.Hits()) != 1 {
		t.Errorf("Hits() = %d, want 1", len(rs.Hits()))
	}
	if (Results{NoMatchResult()}).Hits() != nil {
		t.Error("sentinel Hits() should be nil")
	}
}
