package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
)

func sampleResponse() *models.QueryResponse {
	return &models.QueryResponse{
		Query:     "refund policy",
		TopK:      3,
		QueryTime: 7,
		Results: models.Results{
			{ID: 2, Score: 0.91, Metadata: &models.MetadataRecord{ID: 2, Text: "Refunds are issued\nwithin five days.", Source: "faq/refunds.md", ChunkIndex: 1}},
			{ID: 0, Score: 0.42, Metadata: &models.MetadataRecord{ID: 0, Text: "Shipping takes two weeks.", Source: "shipping.txt"}},
		},
	}
}

func TestWriteQueryResults_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteQueryResults(&buf, sampleResponse(), OutputJSON); err != nil {
		t.Fatalf("WriteQueryResults(json): %v", err)
	}
	var decoded models.QueryResponse
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.Query != "refund policy" || len(decoded.Results) != 2 || decoded.Results[0].ID != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteQueryResults_JSONNoMatch(t *testing.T) {
	resp := &models.QueryResponse{Query: "x", Results: models.Results{models.NoMatchResult()}}
	var buf bytes.Buffer
	if err := WriteQueryResults(&buf, resp, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"message": "No relevant info found."`) {
		t.Errorf("expected sentinel in output:\n%s", buf.String())
	}
}

func TestWriteQueryResults_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteQueryResults(&buf, sampleResponse(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Found 2 results in 7ms", "Rank: 1 | Score: 0.9100 | ID: 2", "Source: faq/refunds.md (chunk 1)", "Shipping takes two weeks."} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteQueryResults_TextNoMatch(t *testing.T) {
	var buf bytes.Buffer
	resp := &models.QueryResponse{Results: models.Results{models.NoMatchResult()}}
	if err := WriteQueryResults(&buf, resp, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), models.NoMatchMessage) {
		t.Errorf("expected no-match message, got %q", buf.String())
	}
}

func TestWriteQueryResults_Compact(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteQueryResults(&buf, sampleResponse(), OutputCompact); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("compact lines = %d, want 2:\n%s", len(lines), buf.String())
	}
	if lines[0] != "0.9100\t2\tfaq/refunds.md\tRefunds are issued within five days." {
		t.Errorf("first line = %q", lines[0])
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"JSON", OutputJSON, false},
		{"compact", OutputCompact, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWriteSyncResult(t *testing.T) {
	var buf bytes.Buffer
	res := &indexer.SyncResult{Mode: indexer.SyncModeAdd, Files: 3, Added: 1, Vectors: 5}
	if err := WriteSyncResult(&buf, res, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Sync add: 3 files (1 added") || !strings.Contains(buf.String(), "5 vectors") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestWriteStatus(t *testing.T) {
	usage := int64(2048)
	status := &models.StatusResponse{
		Documents: 2,
		Chunks:    4,
		Store: &models.StoreStats{State: "loaded", Vectors: 4, Dimensions: 384, NextID: 4,
			Model: "all-MiniLM-L6-v2", IndexType: "memory", Directory: "/srv/faiss_store"},
		DiskUsageBytes: &usage,
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, status, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Documents:   2", "Store:       loaded (/srv/faiss_store)", "Model:       all-MiniLM-L6-v2", "Disk usage:  2.0 KiB"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
