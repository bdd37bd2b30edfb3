package history_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edumarques81/stellar-scrobbler/internal/domain/history"
)

func types(changes []history.Change) []history.ChangeType {
	out := make([]history.ChangeType, len(changes))
	for i, c := range changes {
		out[i] = c.Type
	}
	return out
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name string
		prev []string
		next []string
		want []history.ChangeType
	}{
		{
			name: "equal",
			prev: []string{"a", "b", "c"},
			next: []string{"a", "b", "c"},
			want: []history.ChangeType{history.ChangeEqual, history.ChangeEqual, history.ChangeEqual},
		},
		{
			name: "prepend with tail drop",
			prev: []string{"a", "b", "c"},
			next: []string{"x", "a", "b"},
			want: []history.ChangeType{history.ChangeAdded, history.ChangeEqual, history.ChangeEqual, history.ChangeDeleted},
		},
		{
			name: "moved to front",
			prev: []string{"a", "b", "c", "d"},
			next: []string{"c", "a", "b", "d"},
			want: []history.ChangeType{history.ChangeMoved, history.ChangeEqual, history.ChangeEqual, history.ChangeEqual},
		},
		{
			name: "repeat of head is added",
			prev: []string{"a", "b", "c"},
			next: []string{"a", "a", "b"},
			want: []history.ChangeType{history.ChangeAdded, history.ChangeEqual, history.ChangeEqual, history.ChangeDeleted},
		},
		{
			name: "empty previous",
			prev: nil,
			next: []string{"a"},
			want: []history.ChangeType{history.ChangeAdded},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, types(history.Diff(tt.prev, tt.next)))
		})
	}
}

func TestDiffIndexes(t *testing.T) {
	changes := history.Diff([]string{"a", "b", "c", "d"}, []string{"c", "a", "b", "d"})

	assert.Equal(t, history.Change{Type: history.ChangeMoved, Key: "c", PrevIndex: 2, NewIndex: 0}, changes[0])
	assert.Equal(t, history.Change{Type: history.ChangeEqual, Key: "a", PrevIndex: 0, NewIndex: 1}, changes[1])
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		prev       []string
		next       []string
		shape      history.Shape
		discover   []int
		consistent bool
	}{
		{"no change", []string{"a", "b"}, []string{"a", "b"}, history.ShapeNone, nil, true},
		{"prepend", []string{"a", "b", "c"}, []string{"x", "y", "a"}, history.ShapePrepend, []int{0, 1}, true},
		{"append", []string{"a", "b", "c"}, []string{"b", "c", "x"}, history.ShapeAppend, nil, false},
		{"insert", []string{"a", "b", "c", "d"}, []string{"a", "x", "b", "c"}, history.ShapeInsert, nil, false},
		{"replace", []string{"a", "b", "c"}, []string{"a", "x", "c"}, history.ShapeInsert, nil, false},
		{"bump to front", []string{"a", "b", "c", "d"}, []string{"c", "a", "b", "d"}, history.ShapeBump, []int{0}, true},
		{"bump to back", []string{"a", "b", "c", "d"}, []string{"a", "c", "d", "b"}, history.ShapeBump, nil, false},
		{"two blocks moved", []string{"a", "b", "c", "d", "e", "f"}, []string{"d", "a", "b", "f", "c", "e"}, history.ShapeInsert, nil, false},
		{"bump with append", []string{"a", "b", "c", "d"}, []string{"c", "a", "b", "x"}, history.ShapeInsert, nil, false},
		{"tail dropped", []string{"a", "b", "c"}, []string{"a", "b"}, history.ShapeNone, nil, true},
		{"head dropped", []string{"a", "b", "c"}, []string{"b", "c"}, history.ShapeInsert, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := history.Classify(history.Diff(tt.prev, tt.next), len(tt.prev), len(tt.next))
			assert.Equal(t, tt.shape, c.Shape, c.Reason)
			assert.Equal(t, tt.consistent, c.Consistent)
			if tt.discover == nil {
				assert.Empty(t, c.Discover)
			} else {
				assert.Equal(t, tt.discover, c.Discover)
			}
		})
	}
}
