// Package datamanager is the per-worker data management core of a
// distributed blockchain data lake: it converges a bounded local set of
// immutable data chunks toward a scheduler-desired set, and serves
// (dataset, block) point lookups against whichever chunks are currently
// materialized on disk. See manager.Manager for the public façade.
package datamanager

import (
	"encoding/hex"

	"gitlab.com/NebulousLabs/errors"
)

const idSize = 32

type (
	// DatasetId uniquely identifies a dataset within the remote catalogue.
	DatasetId [idSize]byte

	// ChunkId uniquely identifies a chunk across all datasets.
	ChunkId [idSize]byte
)

// String returns the lower-case, fixed 64-character hex encoding used in
// on-disk paths.
func (id DatasetId) String() string { return hex.EncodeToString(id[:]) }

// String returns the lower-case, fixed 64-character hex encoding used in
// on-disk paths.
func (id ChunkId) String() string { return hex.EncodeToString(id[:]) }

var errWrongIDLength = errors.New("identifier has the wrong length to be a dataset or chunk id")

// ParseDatasetId decodes the hex representation produced by String.
func ParseDatasetId(s string) (DatasetId, error) {
	var id DatasetId
	b, err := parseHexID(s)
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

// ParseChunkId decodes the hex representation produced by String.
func ParseChunkId(s string) (ChunkId, error) {
	var id ChunkId
	b, err := parseHexID(s)
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

func parseHexID(s string) ([]byte, error) {
	if len(s) != idSize*2 {
		return nil, errWrongIDLength
	}
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'F' {
			return nil, errors.New("identifier must be lower-case hex")
		}
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.AddContext(err, "could not decode id")
	}
	return b, nil
}

// DataChunk is the command input describing a chunk to be materialized
// locally: an immutable bundle of files covering block_range=[Lo,Hi) of a
// single dataset.
type DataChunk struct {
	ID        ChunkId
	DatasetID DatasetId
	Lo        uint64
	Hi        uint64
	// Files maps a relative filename to the URL the Blob Source should
	// fetch it from.
	Files map[string]string
}

var (
	errEmptyRange       = errors.New("chunk block range must satisfy lo < hi")
	errNoFiles          = errors.New("chunk must declare at least one file")
	errEmptyFilename    = errors.New("chunk file name must not be empty")
	errFilenameTraversal = errors.New("chunk file name must not contain path traversal components")
)

// Validate enforces the DataChunk invariants from the data model: lo < hi,
// a non-empty file set, and filenames that are relative paths without
// traversal components.
func (c DataChunk) Validate() error {
	if c.Lo >= c.Hi {
		return errEmptyRange
	}
	if len(c.Files) == 0 {
		return errNoFiles
	}
	for name := range c.Files {
		if name == "" {
			return errEmptyFilename
		}
		if !isSafeRelativeName(name) {
			return errors.AddContext(errFilenameTraversal, name)
		}
	}
	return nil
}

// isSafeRelativeName reports whether name is a relative path with no ".."
// component and no leading path separator.
func isSafeRelativeName(name string) bool {
	if name[0] == '/' || name[0] == '\\' {
		return false
	}
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '/' || name[i] == '\\' {
			component := name[start:i]
			if component == ".." {
				return false
			}
			start = i + 1
		}
	}
	return true
}
