package om

import "slices"

// idSet is the set of generals already on a relay path, indexed by general id
type idSet []bool

func newIdSet(n int, ids ...int) idSet {
	s := make(idSet, n)
	for _, id := range ids {
		s[id] = true
	}
	return s
}

// with() returns a copy of the set plus id; sibling branches of the recursion must not share it
func (s idSet) with(id int) idSet {
	c := slices.Clone(s)
	c[id] = true
	return c
}

// complement() lists the ids not in the set in ascending order
func (s idSet) complement() (ids []int) {
	for id, in := range s {
		if !in {
			ids = append(ids, id)
		}
	}
	return
}

// equals() is true if ids holds exactly the members of the set
func (s idSet) equals(ids []int) bool {
	seen := newIdSet(len(s))
	for _, id := range ids {
		if id < 0 || id >= len(s) || !s[id] || seen[id] {
			return false
		}
		seen[id] = true
	}
	return slices.Equal(seen, s)
}
