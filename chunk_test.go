package datamanager

import (
	"testing"

	"gitlab.com/NebulousLabs/errors"
	"gitlab.com/NebulousLabs/fastrand"
)

func testChunkId() ChunkId {
	var id ChunkId
	copy(id[:], fastrand.Bytes(idSize))
	return id
}

func TestIDRoundTrip(t *testing.T) {
	id := testChunkId()
	parsed, err := ParseChunkId(id.String())
	if err != nil {
		t.Fatal("unexpected error parsing a freshly-stringified id:", err)
	}
	if parsed != id {
		t.Fatalf("round trip mismatch: got %v, want %v", parsed, id)
	}
}

func TestParseChunkIdRejectsWrongLength(t *testing.T) {
	_, err := ParseChunkId("deadbeef")
	if !errors.Contains(err, errWrongIDLength) {
		t.Fatal("expected errWrongIDLength, got", err)
	}
}

func TestDataChunkValidate(t *testing.T) {
	valid := DataChunk{Lo: 0, Hi: 10, Files: map[string]string{"data.bin": "http://example.test/data.bin"}}
	if err := valid.Validate(); err != nil {
		t.Fatal("valid chunk rejected:", err)
	}

	tests := []struct {
		name  string
		chunk DataChunk
		want  error
	}{
		{"empty range", DataChunk{Lo: 5, Hi: 5, Files: valid.Files}, errEmptyRange},
		{"inverted range", DataChunk{Lo: 10, Hi: 0, Files: valid.Files}, errEmptyRange},
		{"no files", DataChunk{Lo: 0, Hi: 10, Files: map[string]string{}}, errNoFiles},
		{"empty filename", DataChunk{Lo: 0, Hi: 10, Files: map[string]string{"": "u"}}, errEmptyFilename},
		{"traversal", DataChunk{Lo: 0, Hi: 10, Files: map[string]string{"../escape": "u"}}, errFilenameTraversal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.chunk.Validate()
			if !errors.Contains(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestIsSafeRelativeName(t *testing.T) {
	cases := map[string]bool{
		"data.bin":        true,
		"nested/data.bin": true,
		"../escape":       false,
		"a/../b":          false,
		"/abs":            false,
	}
	for name, want := range cases {
		if got := isSafeRelativeName(name); got != want {
			t.Errorf("isSafeRelativeName(%q) = %v, want %v", name, got, want)
		}
	}
}
