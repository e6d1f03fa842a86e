package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/service"
)

func sampleContext() *models.RetrievalContext {
	return &models.RetrievalContext{
		DocumentID: "3",
		Question:   "when does enrollment open?",
		QueryTime:  12,
		Chunks: []models.RetrievedChunk{
			{Position: 4, Content: "Enrollment opens on May 1.", Score: 0.91},
			{Position: 5, Content: "Late enrollment closes June 1.", Score: 0.77},
		},
	}
}

func TestWriteContext_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteContext(&buf, sampleContext(), OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.RetrievalContext
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.DocumentID != "3" || len(decoded.Chunks) != 2 || decoded.Chunks[0].Position != 4 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteContext_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteContext(&buf, sampleContext(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Document 3: 2 chunks", "Rank: 1 | Chunk: 4 | Score: 0.9100", "Enrollment opens on May 1.", "Rank: 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteDocuments(t *testing.T) {
	docs := []*models.Document{{
		ID: "1", Title: "Student Handbook", FileName: "handbook.pdf", FileSize: 2048,
		ChunkCount: 14, UploadDate: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
	}}
	var buf bytes.Buffer
	if err := WriteDocuments(&buf, docs, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"ID", "TITLE", "Student Handbook", "2.0 KiB", "14", "2024-03-01 09:30"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := WriteDocuments(&buf, nil, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No documents") {
		t.Errorf("empty list output = %q", buf.String())
	}

	buf.Reset()
	if err := WriteDocuments(&buf, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("empty JSON list = %q", buf.String())
	}
}

func TestWriteDocument(t *testing.T) {
	d := &models.Document{ID: "2", Title: "Catalog", Description: "2024 courses", FileName: "c.pdf", FileSize: 10}
	var buf bytes.Buffer
	if err := WriteDocument(&buf, d, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Description: 2024 courses") {
		t.Errorf("output = %s", buf.String())
	}
}

func TestWriteStatus(t *testing.T) {
	st := &service.Status{Documents: 2, CachedIndexes: 1, DiskUsageBytes: 3 << 20, ChunkSize: 1000, ChunkOverlap: 200, ChunkStrategy: "fixed"}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, st, OutputText); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Documents:      2", "3.0 MiB", "fixed 1000/200"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output missing %q:\n%s", want, buf.String())
		}
	}
	buf.Reset()
	if err := WriteStatus(&buf, st, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded service.Status
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil || decoded.Documents != 2 {
		t.Errorf("JSON status = %+v, %v", decoded, err)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{"": OutputText, "text": OutputText, "json": OutputJSON} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("yaml"); err == nil {
		t.Error("expected error for yaml")
	}
}
