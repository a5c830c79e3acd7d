package cluster

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Merge is one row of a linkage matrix: clusters A and B (A < B) joined at
// Height into a cluster of Size leaves. Ids below N are leaves; id N+i is
// the cluster created by merge i.
type Merge struct {
	A, B   int
	Height float64
	Size   int
}

// Linkage is a full agglomeration of N leaves in N-1 merges, sorted by
// height.
type Linkage struct {
	N      int
	Merges []Merge
}

// WardLinkage computes Ward's minimum-variance agglomeration over Euclidean
// distances between the rows of x. It uses the nearest-neighbour chain
// algorithm with the Lance-Williams update on squared distances, so memory
// is O(n²) and time O(n²).
func WardLinkage(ctx context.Context, x mat.Matrix) (*Linkage, error) {
	n, _ := x.Dims()
	if n == 0 {
		return nil, ErrEmptyInput
	}
	if n == 1 {
		return &Linkage{N: 1}, nil
	}

	rows := denseRows(x)
	d := newCondensed(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dist := floats.Distance(rows[i], rows[j], 2)
			d.set(i, j, dist*dist)
		}
	}

	type rawMerge struct {
		a, b   int // representative leaves
		height float64
		size   int
	}

	active := make([]bool, n)
	size := make([]int, n)
	for i := range active {
		active[i] = true
		size[i] = 1
	}

	raw := make([]rawMerge, 0, n-1)
	chain := make([]int, 0, n)
	next := 0

	for len(raw) < n-1 {
		if len(raw)%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		if len(chain) == 0 {
			for !active[next] {
				next++
			}
			chain = append(chain, next)
		}

		var a, b int
		var best float64
		for {
			a = chain[len(chain)-1]
			b = -1
			best = math.Inf(1)
			if len(chain) >= 2 {
				b = chain[len(chain)-2]
				best = d.get(a, b)
			}
			for c := 0; c < n; c++ {
				if !active[c] || c == a {
					continue
				}
				if v := d.get(a, c); v < best {
					best = v
					b = c
				}
			}
			if len(chain) >= 2 && b == chain[len(chain)-2] {
				break
			}
			chain = append(chain, b)
		}
		chain = chain[:len(chain)-2]

		if b < a {
			a, b = b, a
		}
		na, nb := float64(size[a]), float64(size[b])
		for c := 0; c < n; c++ {
			if !active[c] || c == a || c == b {
				continue
			}
			nc := float64(size[c])
			v := ((na+nc)*d.get(a, c) + (nb+nc)*d.get(b, c) - nc*best) / (na + nb + nc)
			d.set(a, c, v)
		}
		active[b] = false
		size[a] += size[b]
		raw = append(raw, rawMerge{a: a, b: b, height: math.Sqrt(math.Max(best, 0)), size: size[a]})
	}

	sort.SliceStable(raw, func(i, j int) bool { return raw[i].height < raw[j].height })

	// Relabel representative leaves into linkage ids in height order.
	uf := newUnionFind(n)
	l := &Linkage{N: n, Merges: make([]Merge, len(raw))}
	for i, m := range raw {
		ra, rb := uf.find(m.a), uf.find(m.b)
		ida, idb := uf.id[ra], uf.id[rb]
		if ida > idb {
			ida, idb = idb, ida
		}
		root := uf.union(ra, rb)
		uf.id[root] = n + i
		l.Merges[i] = Merge{A: ida, B: idb, Height: m.height, Size: uf.size[root]}
	}
	return l, nil
}

// Cut undoes the last k-1 merges. Labels are numbered in order of first
// appearance across the input rows.
func (l *Linkage) Cut(k int) ([]int, error) {
	if k < 1 || k > l.N {
		return nil, fmt.Errorf("cluster: k must be between 1 and %d, got %d", l.N, k)
	}

	uf := newUnionFind(l.N)
	for _, m := range l.Merges[:l.N-k] {
		ra, rb := uf.find(uf.leaf(m.A)), uf.find(uf.leaf(m.B))
		uf.leafOf = append(uf.leafOf, uf.union(ra, rb))
	}

	labels := make([]int, l.N)
	byRoot := make(map[int]int, k)
	for i := 0; i < l.N; i++ {
		r := uf.find(i)
		lbl, ok := byRoot[r]
		if !ok {
			lbl = len(byRoot)
			byRoot[r] = lbl
		}
		labels[i] = lbl
	}
	return labels, nil
}

// Hierarchical runs Ward linkage and cuts it into k flat clusters.
func Hierarchical(ctx context.Context, x mat.Matrix, k int) (*Result, *Linkage, error) {
	link, err := WardLinkage(ctx, x)
	if err != nil {
		return nil, nil, err
	}
	labels, err := link.Cut(k)
	if err != nil {
		return nil, nil, err
	}
	data := denseRows(x)
	return newResult(data, labels, k), link, nil
}

// condensed stores the upper triangle of a symmetric matrix.
type condensed struct {
	n    int
	data []float64
}

func newCondensed(n int) *condensed {
	return &condensed{n: n, data: make([]float64, n*(n-1)/2)}
}

func (c *condensed) index(i, j int) int {
	if i > j {
		i, j = j, i
	}
	return c.n*i - i*(i+1)/2 + (j - i - 1)
}

func (c *condensed) get(i, j int) float64 { return c.data[c.index(i, j)] }

func (c *condensed) set(i, j int, v float64) { c.data[c.index(i, j)] = v }

type unionFind struct {
	parent []int
	size   []int
	id     []int // linkage id of the cluster rooted at each index
	leafOf []int // any leaf of cluster n+i, filled during Cut
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int, n),
		size:   make([]int, n),
		id:     make([]int, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
		uf.id[i] = i
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

func (uf *unionFind) union(a, b int) int {
	if uf.size[a] < uf.size[b] {
		a, b = b, a
	}
	uf.parent[b] = a
	uf.size[a] += uf.size[b]
	return a
}

// leaf maps a linkage id to a leaf index inside that cluster.
func (uf *unionFind) leaf(id int) int {
	n := len(uf.parent)
	if id < n {
		return id
	}
	return uf.leafOf[id-n]
}
