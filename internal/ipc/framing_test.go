package ipc

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	req, err := EncodeBuildRequest(BuildRequestPayload{SourcePath: "bar.txt", TargetPath: "/out/abc", Platform: "ios"})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteEnvelope(req); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteEnvelope(EncodeVersionQuery()); err != nil {
		t.Fatal(err)
	}

	r := NewReader(&buf)

	got, err := r.ReadEnvelope()
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != BuildRequest {
		t.Errorf("first envelope type = %v, want BuildRequest", got.Type)
	}
	var payload BuildRequestPayload
	if err := json.Unmarshal(got.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.SourcePath != "bar.txt" || payload.Platform != "ios" {
		t.Errorf("payload = %+v, want SourcePath=bar.txt Platform=ios", payload)
	}

	second, err := r.ReadEnvelope()
	if err != nil {
		t.Fatal(err)
	}
	if second.Type != VersionQuery {
		t.Errorf("second envelope type = %v, want VersionQuery", second.Type)
	}

	if _, err := r.ReadEnvelope(); err != io.EOF {
		t.Errorf("ReadEnvelope() after exhausting input = %v, want io.EOF", err)
	}
}
