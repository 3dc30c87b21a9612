package catalogue

import (
	"bytes"
	"sort"

	datamanager "github.com/skecskes/data-manager"
)

// insertDatasetEntry inserts e into byDataset[dataset], keeping the slice
// sorted by lo, and refreshes the maxHi prefix from the insertion point
// onward. Caller must hold c.mu for writing.
func (c *Catalogue) insertDatasetEntry(dataset datamanager.DatasetId, e datasetEntry) {
	entries := c.byDataset[dataset]
	pos := sort.Search(len(entries), func(i int) bool { return entries[i].lo >= e.lo })
	entries = append(entries, datasetEntry{})
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = e
	refreshMaxHi(entries, pos)
	c.byDataset[dataset] = entries
}

// removeDatasetEntry removes the entry for id from byDataset[dataset], if
// present, and refreshes the maxHi prefix from the removal point onward.
// Caller must hold c.mu for writing.
func (c *Catalogue) removeDatasetEntry(dataset datamanager.DatasetId, id datamanager.ChunkId) {
	entries := c.byDataset[dataset]
	for i, e := range entries {
		if e.id == id {
			entries = append(entries[:i], entries[i+1:]...)
			refreshMaxHi(entries, i)
			c.byDataset[dataset] = entries
			return
		}
	}
}

// refreshMaxHi recomputes the maxHi prefix for entries[from:], given that
// entries[:from] already carries a correct prefix (or from == 0). Insertion
// and removal already cost O(n) for the slice shift, so this adds no new
// asymptotic cost to either.
func refreshMaxHi(entries []datasetEntry, from int) {
	var running uint64
	if from > 0 {
		running = entries[from-1].maxHi
	}
	for i := from; i < len(entries); i++ {
		if entries[i].hi > running {
			running = entries[i].hi
		}
		entries[i].maxHi = running
	}
}

// findContaining locates the unique winning entry covering block among
// entries (sorted by lo), applying the overlap policy when more than one
// interval covers block: later MarkReady wins, ties broken by
// lexicographically greater ChunkId. Caller must hold c.mu.
//
// The maxHi prefix lets the common, disjoint case resolve in the one
// binary search plus O(1) work spec §4.4 requires: if no entry up to the
// binary-search position can possibly reach block, entries[i].maxHi says
// so without looking at any of them individually, and when block does fall
// inside entries[i] the same field lets the backward scan stop after a
// single step instead of walking to index 0. The scan only runs longer
// than that when intervals actually overlap block, which the spec calls
// out as the exceptional case, not the common one.
func (c *Catalogue) findContaining(entries []datasetEntry, block uint64) (datasetEntry, bool) {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].lo > block }) - 1
	if i < 0 || entries[i].maxHi <= block {
		return datasetEntry{}, false
	}
	var candidates []datasetEntry
	for j := i; j >= 0; j-- {
		if block < entries[j].hi {
			candidates = append(candidates, entries[j])
		}
		if j == 0 || entries[j-1].maxHi <= block {
			break
		}
	}
	if len(candidates) == 0 {
		return datasetEntry{}, false
	}
	return c.resolveWinner(candidates), true
}

// resolveWinner picks the winning entry among candidates under the overlap
// policy. Caller must hold c.mu.
func (c *Catalogue) resolveWinner(candidates []datasetEntry) datasetEntry {
	winner := candidates[0]
	winnerSeq := c.byID[winner.id].readySeq
	for _, cand := range candidates[1:] {
		seq := c.byID[cand.id].readySeq
		if seq > winnerSeq || (seq == winnerSeq && bytes.Compare(cand.id[:], winner.id[:]) > 0) {
			winner = cand
			winnerSeq = seq
		}
	}
	return winner
}
