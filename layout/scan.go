package layout

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gitlab.com/NebulousLabs/errors"

	datamanager "github.com/skecskes/data-manager"
)

// Descriptor is everything Scan can recover about a chunk purely from its
// canonical directory name and contents, without consulting sidecar
// metadata.
type Descriptor struct {
	ID        datamanager.ChunkId
	DatasetID datamanager.DatasetId
	Lo, Hi    uint64
	Path      string
	Files     []string
}

// Scan enumerates canonical directories under the chunk root that match
// the naming convention <dataset_id_hex>/<lo>-<hi>-<chunk_id_hex> and whose
// contents are non-empty. Directories that do not match exactly — stray
// files, malformed names, empty directories — are silently ignored rather
// than treated as errors, since a corrupted directory should not prevent
// the rest of the catalogue from loading.
func (l *Layout) Scan() ([]Descriptor, error) {
	datasetEntries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, errors.AddContext(err, "could not read chunk root")
	}

	var descriptors []Descriptor
	for _, datasetEntry := range datasetEntries {
		name := datasetEntry.Name()
		if !datasetEntry.IsDir() || name == stagingDirName || name == trashDirName {
			continue
		}
		datasetID, err := datamanager.ParseDatasetId(name)
		if err != nil {
			continue
		}
		chunkDirs, err := os.ReadDir(filepath.Join(l.root, name))
		if err != nil {
			return nil, errors.AddContext(err, "could not read dataset directory "+name)
		}
		for _, chunkDir := range chunkDirs {
			if !chunkDir.IsDir() {
				continue
			}
			desc, ok := parseChunkDirName(chunkDir.Name())
			if !ok {
				continue
			}
			desc.DatasetID = datasetID
			desc.Path = filepath.Join(l.root, name, chunkDir.Name())
			files, err := listFiles(desc.Path)
			if err != nil {
				return nil, errors.AddContext(err, "could not list files for chunk at "+desc.Path)
			}
			if len(files) == 0 {
				continue
			}
			desc.Files = files
			descriptors = append(descriptors, desc)
		}
	}
	return descriptors, nil
}

// parseChunkDirName decodes a "<lo>-<hi>-<chunk_id_hex>" directory name.
// Only directories matching this pattern exactly are recognized.
func parseChunkDirName(name string) (Descriptor, bool) {
	parts := strings.SplitN(name, "-", 3)
	if len(parts) != 3 {
		return Descriptor{}, false
	}
	lo, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Descriptor{}, false
	}
	hi, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return Descriptor{}, false
	}
	if lo >= hi {
		return Descriptor{}, false
	}
	id, err := datamanager.ParseChunkId(parts[2])
	if err != nil {
		return Descriptor{}, false
	}
	return Descriptor{ID: id, Lo: lo, Hi: hi}, true
}

// listFiles returns the plain file names (no subdirectories) directly
// inside dir.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, e.Name())
	}
	return files, nil
}
