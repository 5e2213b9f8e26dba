package cache

// UniqueValues returns the distinct values of column in s, for populating
// selection controls. current carries the values already chosen on the
// page; any entry whose key is another indexed column of s narrows the
// result to rows matching it. Entries for non-indexed names are ignored.
//
// The result is informational. A current value missing from it is not an
// error; see ResolveChoices. An empty shard yields an empty (non-nil)
// slice for every indexed column, and nil for a nil shard.
func UniqueValues(s *Shard, column string, current Params) []any {
	if s == nil {
		return nil
	}
	pins := make(map[string]any)
	for col, v := range current {
		if col != column && s.index.Has(col) {
			pins[col] = v
		}
	}
	if len(pins) == 0 && s.index.Has(column) {
		return s.index.Values(column)
	}
	return distinctColumn(s.rows, column, func(r Row) bool {
		for col, want := range pins {
			got, ok := r[col]
			if !ok || got == nil || compareValues(got, want) != 0 {
				return false
			}
		}
		return true
	})
}

// OptionKind tags where a selection control's choices come from.
type OptionKind uint8

const (
	// OptionsStatic: a fixed list declared by the route.
	OptionsStatic OptionKind = iota + 1
	// OptionsFromIndex: derived from the shard's unique-value index.
	OptionsFromIndex
)

// OptionSource is an explicit request variant for a control's choices.
type OptionSource struct {
	Kind   OptionKind
	Static []any
}

// StaticOptions returns a source with a fixed list of choices.
func StaticOptions(values ...any) OptionSource {
	return OptionSource{Kind: OptionsStatic, Static: values}
}

// IndexedOptions returns a source that reads the shard index.
func IndexedOptions() OptionSource { return OptionSource{Kind: OptionsFromIndex} }

// Choices is what a renderer needs to draw a selection control.
type Choices struct {
	Values []any
	// Selected is current[column], if present.
	Selected    any
	HasSelected bool
	// SelectedKnown reports whether Selected appears in Values. Renderers
	// still display an unknown selection; rejecting it is not their job.
	SelectedKnown bool
}

// ResolveChoices resolves src for column against s and the current
// selection.
func ResolveChoices(s *Shard, column string, src OptionSource, current Params) Choices {
	var ch Choices
	switch src.Kind {
	case OptionsFromIndex:
		ch.Values = UniqueValues(s, column, current)
	default:
		ch.Values = append([]any(nil), src.Static...)
	}
	if v, ok := current[column]; ok {
		ch.Selected, ch.HasSelected = v, true
		for _, x := range ch.Values {
			if compareValues(x, v) == 0 {
				ch.SelectedKnown = true
				break
			}
		}
	}
	return ch
}
