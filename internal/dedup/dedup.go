// Package dedup collapses CleanRecords that describe the same product.
//
// Two records belong to the same group when they share an identifier, or
// when they share a (product name, brand, location) triple with all three
// present. Grouping is transitive. One survivor is kept per group.
package dedup

import (
	"sort"

	"github.com/sells-group/foodgeo/internal/model"
	"github.com/sells-group/foodgeo/internal/normalize"
)

// Deduplicate returns one survivor per group, sorted by Code, and the number
// of records removed. The result does not depend on input order, and running
// it again on its own output removes nothing.
func Deduplicate(records []model.CleanRecord) ([]model.CleanRecord, int) {
	if len(records) == 0 {
		return nil, 0
	}

	uf := newUnionFind(len(records))
	byCode := make(map[string]int, len(records))
	byComposite := make(map[string]int, len(records))
	for i := range records {
		r := &records[i]
		if j, ok := byCode[r.Code]; ok {
			uf.union(i, j)
		} else {
			byCode[r.Code] = i
		}

		key := normalize.CompositeKey(r.ProductName.Value, r.Brands.Value, r.Stores.Value)
		if key == "" {
			continue
		}
		if j, ok := byComposite[key]; ok {
			uf.union(i, j)
		} else {
			byComposite[key] = i
		}
	}

	best := make(map[int]int, len(records))
	for i := range records {
		root := uf.find(i)
		cur, ok := best[root]
		if !ok || Better(&records[i], &records[cur]) {
			best[root] = i
		}
	}

	out := make([]model.CleanRecord, 0, len(best))
	for _, i := range best {
		out = append(out, records[i])
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Code < out[b].Code })
	return out, len(records) - len(out)
}

// Better reports whether a should survive over b: fewer missing fields, then
// newer IngestedAt, then the smaller Code. Records that tie on all three
// (the same Code fetched twice with one timestamp) fall back to field content so the
// choice never depends on input order. A present value sorts before a
// missing one.
func Better(a, b *model.CleanRecord) bool {
	if ma, mb := a.MissingCount(), b.MissingCount(); ma != mb {
		return ma < mb
	}
	if !a.IngestedAt.Equal(b.IngestedAt) {
		return a.IngestedAt.After(b.IngestedAt)
	}
	if a.Code != b.Code {
		return a.Code < b.Code
	}
	return contentLess(a, b)
}

func contentLess(a, b *model.CleanRecord) bool {
	for _, f := range model.Schema {
		switch {
		case f.Text != nil:
			ta, tb := f.Text(a), f.Text(b)
			if ta.Valid != tb.Valid {
				return ta.Valid
			}
			if ta.Value != tb.Value {
				return ta.Value < tb.Value
			}
		case f.Num != nil:
			na, nb := f.Num(a), f.Num(b)
			if na.Valid != nb.Valid {
				return na.Valid
			}
			if na.Value != nb.Value {
				return na.Value < nb.Value
			}
		}
	}
	return false
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	switch {
	case uf.rank[ra] < uf.rank[rb]:
		uf.parent[ra] = rb
	case uf.rank[ra] > uf.rank[rb]:
		uf.parent[rb] = ra
	default:
		uf.parent[rb] = ra
		uf.rank[ra]++
	}
}
