package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"gitlab.com/NebulousLabs/errors"

	datamanager "github.com/skecskes/data-manager"
	"github.com/skecskes/data-manager/manager"
)

// command is one line of the newline-delimited JSON file serve reloads on
// SIGHUP — a stand-in for the scheduler RPC protocol this spec leaves out
// of scope. Op is "download" or "delete"; Download fields are ignored for
// "delete" and vice versa.
type command struct {
	Op      string            `json:"op"`
	ID      string            `json:"id"`
	Dataset string            `json:"dataset,omitempty"`
	Lo      uint64            `json:"lo,omitempty"`
	Hi      uint64            `json:"hi,omitempty"`
	Files   map[string]string `json:"files,omitempty"`
}

// applyCommandsFile reads path as newline-delimited JSON commands and
// applies each as a DownloadChunk or DeleteChunk call, in file order. A
// malformed or invalid line is logged and skipped rather than aborting the
// whole reload, so one bad line in an otherwise-valid batch cannot block
// the rest from taking effect.
func applyCommandsFile(m *manager.Manager, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.AddContext(err, "could not open commands file")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cmd command
		if err := json.Unmarshal(line, &cmd); err != nil {
			fmt.Fprintf(os.Stderr, "serve: commands file line %d: invalid JSON: %v\n", lineNo, err)
			continue
		}
		if err := applyCommand(m, cmd); err != nil {
			fmt.Fprintf(os.Stderr, "serve: commands file line %d: %v\n", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.AddContext(err, "could not read commands file")
	}
	return nil
}

func applyCommand(m *manager.Manager, cmd command) error {
	id, err := datamanager.ParseChunkId(cmd.ID)
	if err != nil {
		return errors.AddContext(err, "invalid chunk id")
	}
	switch cmd.Op {
	case "delete":
		m.DeleteChunk(id)
		return nil
	case "download":
		datasetID, err := datamanager.ParseDatasetId(cmd.Dataset)
		if err != nil {
			return errors.AddContext(err, "invalid dataset id")
		}
		chunk := datamanager.DataChunk{
			ID: id, DatasetID: datasetID, Lo: cmd.Lo, Hi: cmd.Hi, Files: cmd.Files,
		}
		return m.DownloadChunk(chunk)
	default:
		return errors.New("unknown op " + cmd.Op)
	}
}
