package execution

import "github.com/wehubfusion/Daedalus/pkg/workflow"

// CompressSignals drops stale signals from a pending delivery list.
//
// Compression runs independently for every (link, id) group while the
// surviving signals keep their original relative order:
//
//   - consecutive updates collapse to the latest, except a nil-valued
//     update is preserved as a reset marker; a run like 1, 2, nil, 3
//     compresses to nil, 3
//   - updates immediately preceding a Close are dropped in favor of the
//     Close
//
// The result is always a subsequence of the input and compressing an
// already compressed list changes nothing.
func CompressSignals(signals []Signal) []Signal {
	type groupKey struct {
		link *workflow.Link
		id   any
	}
	groups := make(map[groupKey][]int)
	var order []groupKey
	for i, sig := range signals {
		key := groupKey{link: sig.Link, id: sig.ID}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	survivors := make([]bool, len(signals))
	for _, key := range order {
		indices := groups[key]
		group := make([]Signal, len(indices))
		for i, idx := range indices {
			group[i] = signals[idx]
		}
		for _, keep := range compressSingle(group, indices) {
			survivors[keep] = true
		}
	}

	out := make([]Signal, 0, len(signals))
	for i, sig := range signals {
		if survivors[i] {
			out = append(out, sig)
		}
	}
	return out
}

// compressSingle compresses one (link, id) group. group and indices run in
// parallel; the return value is the surviving subset of indices.
func compressSingle(group []Signal, indices []int) []int {
	type entry struct {
		sig   Signal
		index int
	}
	update := func(e *entry) bool { return e != nil && e.sig.Kind == Update }
	noneUpdate := func(e *entry) bool { return update(e) && e.sig.Value == nil }
	closeSig := func(e *entry) bool { return e != nil && e.sig.Kind == Close }

	var out []entry
	at := func(back int) *entry {
		if len(out) < back {
			return nil
		}
		return &out[len(out)-back]
	}

	// Pass 1: merge consecutive updates, keeping nil reset markers.
	for i, sig := range group {
		cur := &entry{sig: sig, index: indices[i]}
		prev, prevPrev := at(1), at(2)
		switch {
		case noneUpdate(prevPrev) && update(prev) && noneUpdate(cur):
			// ..., nil, X, nil -> ..., nil
			out = append(out[:len(out)-2], *cur)
		case noneUpdate(prevPrev) && update(prev) && update(cur):
			// ..., nil, X, Y -> ..., nil, Y
			out[len(out)-1] = *cur
		case noneUpdate(prev) && noneUpdate(cur):
			// ..., nil, nil -> ..., nil
			out[len(out)-1] = *cur
		case noneUpdate(prev) && update(cur):
			// ..., nil, X -> ..., nil, X
			out = append(out, *cur)
		case update(prev) && update(cur):
			// ..., X, Y -> ..., Y
			out[len(out)-1] = *cur
		default:
			out = append(out, *cur)
		}
	}

	merged := out
	out = nil

	// Pass 2: drop updates directly preceding a Close.
	for _, e := range merged {
		cur := e
		prev, prevPrev := at(1), at(2)
		switch {
		case update(prevPrev) && update(prev) && closeSig(&cur):
			// ..., nil, X, Close -> ..., Close
			out = append(out[:len(out)-2], cur)
		case update(prev) && closeSig(&cur):
			// ..., X, Close -> ..., Close
			out[len(out)-1] = cur
		default:
			out = append(out, cur)
		}
	}

	keep := make([]int, len(out))
	for i, e := range out {
		keep[i] = e.index
	}
	return keep
}
