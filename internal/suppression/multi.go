package suppression

import (
	"context"
	"fmt"
	"sync"

	"github.com/inferloop/dart/pkg/errors"
	"github.com/inferloop/dart/pkg/table"
)

// applyMany runs the engine once per frequency column, each run seeing only
// its own frequency column, and joins the suffixed results onto a copy of
// the input on the composite key.
func (a *Anonymizer) applyMany(ctx context.Context, t *table.Table) ([]*columnRun, *table.Table, error) {
	columns := a.config.FrequencyColumns
	runs := make([]*columnRun, len(columns))
	errs := make([]error, len(columns))

	var wg sync.WaitGroup
	for i, column := range columns {
		wg.Add(1)
		go func(i int, column string) {
			defer wg.Done()

			view, err := t.Select(columnsWithout(t.Columns, columns, column)...)
			if err != nil {
				errs[i] = errors.NewConfigurationError(errors.CodeUnknownColumn, err.Error())
				return
			}
			runs[i], errs[i] = a.runColumn(ctx, view, column, "_"+column)
		}(i, column)
	}
	wg.Wait()

	// Report the first failing column in configured order.
	for _, err := range errs {
		if err != nil {
			return nil, nil, err
		}
	}

	merged := t.Clone()
	key := a.config.CompositeKey()
	for i, column := range columns {
		if err := mergeOnKey(merged, runs[i].table, key, column, "_"+column); err != nil {
			return nil, nil, err
		}
	}
	return runs, merged, nil
}

// columnsWithout drops every frequency column except keep, preserving order.
func columnsWithout(all, frequencies []string, keep string) []string {
	drop := make(map[string]bool, len(frequencies))
	for _, f := range frequencies {
		if f != keep {
			drop[f] = true
		}
	}
	out := make([]string, 0, len(all))
	for _, c := range all {
		if !drop[c] {
			out = append(out, c)
		}
	}
	return out
}

// mergeOnKey left-joins part onto base: the frequency value (which may have
// been overwritten by a redact value) and the suffixed redaction columns are
// taken from the part row with the same composite key.
func mergeOnKey(base, part *table.Table, key []string, frequency, suffix string) error {
	if !base.HasColumn(frequency) {
		return errors.NewConfigurationError(errors.CodeUnknownColumn,
			fmt.Sprintf("unknown column(s): %s", frequency))
	}
	partIndex, err := compositeIndex(part, key)
	if err != nil {
		return err
	}
	baseKeys, err := compositeKeys(base, key)
	if err != nil {
		return err
	}

	outputs := OutputColumns(suffix)
	partFreq := part.ColumnIndex(frequency)
	baseFreq := base.ColumnIndex(frequency)
	added := make([][]table.Value, len(outputs))
	for i := range added {
		added[i] = make([]table.Value, base.Len())
	}

	for r, id := range baseKeys {
		pr, ok := partIndex[id]
		if !ok {
			continue
		}
		row := part.Rows[pr]
		base.Rows[r][baseFreq] = row[partFreq]
		for i, name := range outputs {
			added[i][r] = row[part.ColumnIndex(name)]
		}
	}

	for i, name := range outputs {
		if err := base.AddColumn(name, added[i]); err != nil {
			return errors.NewConfigurationError(errors.CodeOutputColumnExists, err.Error())
		}
	}
	return nil
}

func compositeKeys(t *table.Table, key []string) ([]string, error) {
	idx := make([]int, len(key))
	for i, name := range key {
		idx[i] = t.ColumnIndex(name)
		if idx[i] < 0 {
			return nil, errors.NewConfigurationError(errors.CodeUnknownColumn,
				fmt.Sprintf("unknown column(s): %s", name))
		}
	}
	positions := allPositions(len(key))
	out := make([]string, len(t.Rows))
	for r, row := range t.Rows {
		k := make(Key, len(key))
		for i, j := range idx {
			k[i] = CategoryOf(row[j])
		}
		out[r] = k.encode(positions)
	}
	return out, nil
}

func compositeIndex(t *table.Table, key []string) (map[string]int, error) {
	keys, err := compositeKeys(t, key)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(keys))
	for r, id := range keys {
		if _, ok := index[id]; !ok {
			index[id] = r
		}
	}
	return index, nil
}
