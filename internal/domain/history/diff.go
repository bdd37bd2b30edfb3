// Package history detects newly played tracks by comparing successive "recently
// played" lists fetched from a source.
package history

// ChangeType is the kind of a single list diff entry.
type ChangeType string

const (
	ChangeEqual   ChangeType = "equal"
	ChangeAdded   ChangeType = "added"
	ChangeDeleted ChangeType = "deleted"
	ChangeMoved   ChangeType = "moved"
)

// Change describes one entry of a list diff. PrevIndex is -1 for added entries and
// NewIndex is -1 for deleted ones.
type Change struct {
	Type      ChangeType `json:"type"`
	Key       string     `json:"key"`
	PrevIndex int        `json:"prevIndex"`
	NewIndex  int        `json:"newIndex"`
}

// Diff compares two lists of keys. Entries on a longest common subsequence are
// equal, unmatched new entries whose key is still unaccounted for in prev are
// moved, the rest are added or deleted. Changes are ordered by new index, with
// deletions last in prev order.
func Diff(prev, next []string) []Change {
	n, m := len(prev), len(next)

	// lcs[i][j] is the LCS length of prev[i:] and next[j:].
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			switch {
			case prev[i] == next[j]:
				lcs[i][j] = lcs[i+1][j+1] + 1
			case lcs[i+1][j] >= lcs[i][j+1]:
				lcs[i][j] = lcs[i+1][j]
			default:
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	newMatch := make([]int, m)
	prevMatched := make([]bool, n)
	for j := range newMatch {
		newMatch[j] = -1
	}

	// Prefer leaving a new entry unmatched when that keeps the LCS length, so a
	// repeated key at the head aligns with the older copy further down.
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case lcs[i][j+1] == lcs[i][j]:
			j++
		case prev[i] == next[j]:
			newMatch[j] = i
			prevMatched[i] = true
			i++
			j++
		default:
			i++
		}
	}

	pending := make(map[string][]int)
	for idx, key := range prev {
		if !prevMatched[idx] {
			pending[key] = append(pending[key], idx)
		}
	}

	changes := make([]Change, 0, m+n)
	for j, key := range next {
		if pi := newMatch[j]; pi >= 0 {
			changes = append(changes, Change{Type: ChangeEqual, Key: key, PrevIndex: pi, NewIndex: j})
			continue
		}
		if idxs := pending[key]; len(idxs) > 0 {
			pending[key] = idxs[1:]
			prevMatched[idxs[0]] = true
			changes = append(changes, Change{Type: ChangeMoved, Key: key, PrevIndex: idxs[0], NewIndex: j})
			continue
		}
		changes = append(changes, Change{Type: ChangeAdded, Key: key, PrevIndex: -1, NewIndex: j})
	}
	for idx, key := range prev {
		if !prevMatched[idx] {
			changes = append(changes, Change{Type: ChangeDeleted, Key: key, PrevIndex: idx, NewIndex: -1})
		}
	}
	return changes
}

// Shape is the overall classification of a list change.
type Shape string

const (
	ShapeNone    Shape = "none"
	ShapePrepend Shape = "prepend"
	ShapeAppend  Shape = "append"
	ShapeInsert  Shape = "insert"
	ShapeBump    Shape = "bump"
)

// Classification is the result of Classify.
type Classification struct {
	Shape Shape
	// Discover holds the new-list indexes that may be treated as new plays.
	Discover []int
	// Consistent is false when the change cannot be explained by plays happening now.
	Consistent bool
	Reason     string
}

// Classify decides the shape of a diff between lists of length prevLen and newLen.
// Only a prepend, or a single contiguous block moved to the front, yields entries
// to discover. Any compound change is an insert.
func Classify(changes []Change, prevLen, newLen int) Classification {
	var added, deleted, moved, equal []Change
	for _, c := range changes {
		switch c.Type {
		case ChangeAdded:
			added = append(added, c)
		case ChangeDeleted:
			deleted = append(deleted, c)
		case ChangeMoved:
			moved = append(moved, c)
		default:
			equal = append(equal, c)
		}
	}

	if len(added) == 0 && len(moved) == 0 {
		if len(deleted) == 0 {
			return Classification{Shape: ShapeNone, Consistent: true}
		}
		if isSuffix(deleted, prevLen) {
			return Classification{Shape: ShapeNone, Consistent: true, Reason: "entries dropped from the end of the list"}
		}
		return Classification{Shape: ShapeInsert, Reason: "entries removed from inside the list"}
	}

	if len(moved) > 0 {
		if len(added) > 0 || len(deleted) > 0 {
			return Classification{Shape: ShapeInsert, Reason: "entries moved while others were added or removed"}
		}
		return classifyBump(moved, newLen)
	}

	k := len(added)
	if prependShaped(added, deleted, equal, prevLen) {
		idx := make([]int, k)
		for i := range idx {
			idx[i] = i
		}
		return Classification{Shape: ShapePrepend, Discover: idx, Consistent: true}
	}
	if appendShaped(added, deleted, equal, newLen) {
		return Classification{Shape: ShapeAppend, Reason: "entries added at the end of the list, likely a backfill"}
	}
	return Classification{Shape: ShapeInsert, Reason: "entries added inside the list, likely a history correction"}
}

func prependShaped(added, deleted, equal []Change, prevLen int) bool {
	k := len(added)
	for i, c := range added {
		if c.NewIndex != i {
			return false
		}
	}
	for _, c := range equal {
		if c.NewIndex-c.PrevIndex != k {
			return false
		}
	}
	return isSuffix(deleted, prevLen)
}

func appendShaped(added, deleted, equal []Change, newLen int) bool {
	k := len(added)
	for i, c := range added {
		if c.NewIndex != newLen-k+i {
			return false
		}
	}
	d := len(deleted)
	for i, c := range deleted {
		if c.PrevIndex != i {
			return false
		}
	}
	for _, c := range equal {
		if c.PrevIndex-c.NewIndex != d {
			return false
		}
	}
	return true
}

func classifyBump(moved []Change, newLen int) Classification {
	first, last := moved[0].NewIndex, moved[len(moved)-1].NewIndex
	for i := 1; i < len(moved); i++ {
		if moved[i].NewIndex != moved[i-1].NewIndex+1 {
			return Classification{Shape: ShapeInsert, Reason: "more than one block of entries moved"}
		}
	}
	switch {
	case first == 0:
		idx := make([]int, len(moved))
		for i := range idx {
			idx[i] = i
		}
		return Classification{Shape: ShapeBump, Discover: idx, Consistent: true}
	case last == newLen-1:
		return Classification{Shape: ShapeBump, Reason: "entries moved to the end of the list"}
	default:
		return Classification{Shape: ShapeInsert, Reason: "entries moved inside the list"}
	}
}

// isSuffix reports whether the deleted entries are exactly the tail of prev.
func isSuffix(deleted []Change, prevLen int) bool {
	start := prevLen - len(deleted)
	for i, c := range deleted {
		if c.PrevIndex != start+i {
			return false
		}
	}
	return true
}
