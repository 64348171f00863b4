package model

import (
	"maps"
	"slices"
	"strings"

	"github.com/eida/wfcc/pkg/consistency/types"
)

// Classification is the output of one engine pass: six record sets keyed by
// file name, plus the per-file errors and counters gathered along the way.
// The zero value is not usable, create one with NewClassification.
type Classification struct {
	tables  map[Table]map[string]Record
	reasons map[string]RemovalReason

	Errors      types.FileErrors
	Scanned     int
	BytesHashed int64
}

func NewClassification() *Classification {
	tables := make(map[Table]map[string]Record, len(Tables))
	for _, t := range Tables {
		tables[t] = make(map[string]Record)
	}
	return &Classification{
		tables:  tables,
		reasons: make(map[string]RemovalReason),
	}
}

// Add records rec in table t. Adding the same file name twice keeps a single
// row.
func (c *Classification) Add(t Table, rec Record) {
	c.tables[t][rec.FileName] = rec
}

// AddRemoval records rec in the remove_from_wfcatalog table with its reason.
func (c *Classification) AddRemoval(rec Record, reason RemovalReason) {
	c.Add(RemoveFromCatalog, rec)
	c.reasons[rec.FileName] = reason
}

func (c *Classification) Has(t Table, fileName string) bool {
	_, ok := c.tables[t][fileName]
	return ok
}

func (c *Classification) Count(t Table) int {
	return len(c.tables[t])
}

// Records returns the rows of table t ordered by file name.
func (c *Classification) Records(t Table) []Record {
	recs := slices.Collect(maps.Values(c.tables[t]))
	slices.SortFunc(recs, func(a, b Record) int {
		return strings.Compare(a.FileName, b.FileName)
	})
	return recs
}

// FileNames returns the sorted file names recorded in table t.
func (c *Classification) FileNames(t Table) []string {
	return slices.Sorted(maps.Keys(c.tables[t]))
}

// Reason returns the removal reason recorded for fileName.
func (c *Classification) Reason(fileName string) (RemovalReason, bool) {
	r, ok := c.reasons[fileName]
	return r, ok
}

// ReasonCounts counts the remove_from_wfcatalog rows per reason.
func (c *Classification) ReasonCounts() map[RemovalReason]int {
	counts := make(map[RemovalReason]int)
	for _, r := range c.reasons {
		counts[r]++
	}
	return counts
}

// AddError records a recoverable per-file failure.
func (c *Classification) AddError(err types.FileError) {
	c.Errors = append(c.Errors, err)
}

// Merge folds other into c. Record sets are unioned, so the result does not
// depend on the order partitions are merged in.
func (c *Classification) Merge(other *Classification) {
	for t, recs := range other.tables {
		for name, rec := range recs {
			c.tables[t][name] = rec
		}
	}
	maps.Copy(c.reasons, other.reasons)
	c.Errors = append(c.Errors, other.Errors...)
	c.Scanned += other.Scanned
	c.BytesHashed += other.BytesHashed
}

// Total counts the rows across all tables.
func (c *Classification) Total() int {
	n := 0
	for _, recs := range c.tables {
		n += len(recs)
	}
	return n
}
