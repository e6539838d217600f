package metrics

// Columns turns a record sequence into one column per selected variable,
// keyed by name. Identity fields are converted as in Entry.Value.
func Columns(entries []Entry, mask Mask) map[string][]float64 {
	ids := mask.Metrics()
	out := make(map[string][]float64, len(ids))
	for _, m := range ids {
		col := make([]float64, len(entries))
		for i := range entries {
			col[i] = entries[i].Value(m)
		}
		out[names[m]] = col
	}
	return out
}
