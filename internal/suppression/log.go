package suppression

import (
	"sort"
	"strconv"
	"strings"
)

// Redaction is the category recorded for a cell.
type Redaction string

const (
	NotRedacted          Redaction = "Not Redacted"
	UserRequested        Redaction = "User-requested redaction"
	PrimarySuppression   Redaction = "Primary Suppression"
	SecondarySuppression Redaction = "Secondary Suppression"
)

// Cell is one aggregate at one granularity.
type Cell struct {
	Grouping  int
	Key       Key
	Frequency int

	// MinimumValue is the smallest aggregate above the threshold within the
	// cell's enclosing organizational scope, fixed when the log is built.
	MinimumValue      *int
	MinimumValueTotal *int
	PartitionMinimums map[string]int

	Detail        bool
	Record        int
	UserRequested bool

	RedactBinary int
	Redact       Redaction
	Breakdown    []string
}

// Suppressed reports whether any rule has hidden the cell.
func (c *Cell) Suppressed() bool {
	return c.RedactBinary == 1
}

// RedactBreakdown joins the reasons recorded for the cell.
func (c *Cell) RedactBreakdown() string {
	if len(c.Breakdown) == 0 {
		return string(NotRedacted)
	}
	return strings.Join(c.Breakdown, ", ")
}

// mark suppresses the cell and records reason. The category is only set by
// the first rule that suppresses the cell. It reports whether the cell was
// newly suppressed.
func (c *Cell) mark(category Redaction, reason string) bool {
	c.Breakdown = append(c.Breakdown, reason)
	if c.RedactBinary == 1 {
		return false
	}
	c.RedactBinary = 1
	c.Redact = category
	return true
}

// RedactionLog holds every aggregate cell across all granularities.
type RedactionLog struct {
	Schema    *Schema
	Groupings []Grouping
	Cells     []*Cell

	detail []*Cell
}

// DetailCell returns the finest cell built from the given input row.
func (l *RedactionLog) DetailCell(row int) *Cell {
	if row < 0 || row >= len(l.detail) {
		return nil
	}
	return l.detail[row]
}

// DetailCells returns the detail cells in input row order. Rows without a
// detail cell are skipped.
func (l *RedactionLog) DetailCells() []*Cell {
	out := make([]*Cell, 0, len(l.detail))
	for _, c := range l.detail {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// GroupingCells returns the cells of one grouping in log order.
func (l *RedactionLog) GroupingCells(id int) []*Cell {
	var out []*Cell
	for _, c := range l.Cells {
		if c.Grouping == id {
			out = append(out, c)
		}
	}
	return out
}

// PartitionLabels lists the MinimumValue<Label> names carried by the log.
func (l *RedactionLog) PartitionLabels() []string {
	var labels []string
	for _, c := range PartitionCombinations(len(l.Schema.Sensitive)) {
		if len(c) > 0 {
			labels = append(labels, c.Label(l.Schema))
		}
	}
	return labels
}

// BuildLog aggregates the records at every granularity, appends one detail
// cell per record and deduplicates identical cells, keeping the first. The
// detail cells therefore merge into grouping 0.
func BuildLog(s *Schema, records []Record) *RedactionLog {
	log := &RedactionLog{
		Schema:    s,
		Groupings: EnumerateGroupings(s),
		detail:    make([]*Cell, len(records)),
	}
	seen := make(map[string]*Cell)
	full := allPositions(s.Width())

	add := func(c *Cell) *Cell {
		id := c.Key.encode(full) + strconv.Itoa(c.Frequency)
		if existing, ok := seen[id]; ok {
			if c.Detail {
				existing.Detail = true
				existing.Record = c.Record
				existing.UserRequested = existing.UserRequested || c.UserRequested
			}
			return existing
		}
		seen[id] = c
		log.Cells = append(log.Cells, c)
		return c
	}

	for _, g := range log.Groupings {
		positions := g.Positions(s)
		sums := make(map[string]*Cell)
		var cells []*Cell
		for _, r := range records {
			key := r.Key.Project(positions)
			id := key.encode(full)
			c, ok := sums[id]
			if !ok {
				c = newCell(g.ID, key)
				sums[id] = c
				cells = append(cells, c)
			}
			c.Frequency += r.Frequency
		}
		sort.SliceStable(cells, func(i, j int) bool {
			return compareKeys(cells[i].Key, cells[j].Key) < 0
		})
		for _, c := range cells {
			add(c)
		}
	}

	detailGrouping := len(log.Groupings)
	for _, r := range records {
		c := newCell(detailGrouping, r.Key)
		c.Frequency = r.Frequency
		c.Detail = true
		c.Record = r.Row
		c.UserRequested = r.UserRequested
		log.detail[r.Row] = add(c)
	}
	if log.usesGrouping(detailGrouping) {
		log.Groupings = append(log.Groupings, Grouping{ID: detailGrouping, Kind: KindDetail})
	}

	log.computeMinimums()
	return log
}

func newCell(grouping int, key Key) *Cell {
	return &Cell{
		Grouping: grouping,
		Key:      key,
		Record:   -1,
		Redact:   NotRedacted,
	}
}

func (l *RedactionLog) usesGrouping(id int) bool {
	for _, c := range l.Cells {
		if c.Grouping == id {
			return true
		}
	}
	return false
}

// computeMinimums fills the MinimumValue references from the initial,
// unsuppressed distribution.
func (l *RedactionLog) computeMinimums() {
	s := l.Schema
	threshold := s.Threshold
	byGrouping := make(map[int]Grouping, len(l.Groupings))
	for _, g := range l.Groupings {
		byGrouping[g.ID] = g
	}

	scoped := newMinimums(threshold)
	for _, c := range l.Cells {
		scoped.observe(scopeID(c, byGrouping[c.Grouping].Scope), c.Frequency)
	}
	for _, c := range l.Cells {
		c.MinimumValue = scoped.get(scopeID(c, byGrouping[c.Grouping].Scope))
	}

	org := s.organizationPositions()
	for _, combo := range PartitionCombinations(len(s.Sensitive)) {
		if len(combo) == 0 {
			continue
		}
		label := combo.Label(s)
		positions := append(append([]int(nil), org...), s.sensitivePositions(combo)...)
		partition := newMinimums(threshold)
		for _, c := range l.Cells {
			if byGrouping[c.Grouping].Contains(combo) {
				partition.observe(partitionID(c, positions), c.Frequency)
			}
		}
		for _, c := range l.Cells {
			if !byGrouping[c.Grouping].Contains(combo) {
				continue
			}
			if v := partition.get(partitionID(c, positions)); v != nil {
				if c.PartitionMinimums == nil {
					c.PartitionMinimums = make(map[string]int)
				}
				c.PartitionMinimums[label] = *v
			}
		}
	}

	if len(org) == 0 {
		return
	}
	totals := newMinimums(threshold)
	for _, c := range l.Cells {
		totals.observe(c.Key.encode(org), c.Frequency)
	}
	for _, c := range l.Cells {
		c.MinimumValueTotal = totals.get(c.Key.encode(org))
		if c.MinimumValue == nil {
			c.MinimumValue = c.MinimumValueTotal
		}
	}
}

func scopeID(c *Cell, scope []int) string {
	return strconv.Itoa(c.Grouping) + "|" + c.Key.encode(scope)
}

func partitionID(c *Cell, positions []int) string {
	return strconv.Itoa(c.Grouping) + "|" + c.Key.encode(positions)
}

// minimums tracks the smallest value above a threshold per group.
type minimums struct {
	threshold int
	values    map[string]int
}

func newMinimums(threshold int) *minimums {
	return &minimums{threshold: threshold, values: make(map[string]int)}
}

func (m *minimums) observe(id string, v int) {
	if v <= m.threshold {
		return
	}
	if cur, ok := m.values[id]; !ok || v < cur {
		m.values[id] = v
	}
}

func (m *minimums) get(id string) *int {
	v, ok := m.values[id]
	if !ok {
		return nil
	}
	return &v
}
