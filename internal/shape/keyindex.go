package shape

import "github.com/emirpasic/gods/maps/treemap"

// KeyIndex is an ordered set of key points keyed by raw index, queried with
// "next key point of a kind at or after i" lookups.
type KeyIndex struct {
	tree *treemap.Map
}

// NewKeyIndex returns an empty index.
func NewKeyIndex() *KeyIndex {
	return &KeyIndex{tree: treemap.NewWithIntComparator()}
}

// Insert adds kp unless a key point already sits at its index.
func (x *KeyIndex) Insert(kp KeyPoint) bool {
	if _, found := x.tree.Get(kp.Index); found {
		return false
	}
	x.tree.Put(kp.Index, kp)
	return true
}

// Get returns the key point at index i.
func (x *KeyIndex) Get(i int) (KeyPoint, bool) {
	v, found := x.tree.Get(i)
	if !found {
		return KeyPoint{}, false
	}
	return v.(KeyPoint), true
}

// NextOfKind returns the first key point of kind with index >= from,
// skipping index skip.
func (x *KeyIndex) NextOfKind(from int, kind Kind, skip int) (KeyPoint, bool) {
	for {
		k, v := x.tree.Ceiling(from)
		if k == nil {
			return KeyPoint{}, false
		}
		kp := v.(KeyPoint)
		if kp.Kind == kind && kp.Index != skip {
			return kp, true
		}
		from = k.(int) + 1
	}
}

// Len returns the number of key points.
func (x *KeyIndex) Len() int { return x.tree.Size() }

// Points returns all key points in index order.
func (x *KeyIndex) Points() []KeyPoint {
	out := make([]KeyPoint, 0, x.tree.Size())
	for _, v := range x.tree.Values() {
		out = append(out, v.(KeyPoint))
	}
	return out
}
