// ABOUTME: Benchmarks for dominators and retained sizes on generated heaps
// ABOUTME: Shapes cover random trees, bounded DAGs and heap-like graphs

package retain

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/prateek/markbarrier/heap"
)

type shape func(rng *rand.Rand, n int) [][]int

// tree gives every node a random earlier parent
func tree(rng *rand.Rand, n int) [][]int {
	edges := make([][]int, n)
	for i := 1; i < n; i++ {
		p := rng.Intn(i)
		edges[p] = append(edges[p], i)
	}
	return edges
}

// dag adds forward edges within a window of 100 nodes
func dag(rng *rand.Rand, n int) [][]int {
	edges := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n && j < i+100; j++ {
			if rng.Float64() < 0.02 {
				edges[i] = append(edges[i], j)
			}
		}
	}
	return edges
}

// heapLike points each object at a few others, back edges included
func heapLike(rng *rand.Rand, n int) [][]int {
	edges := make([][]int, n)
	for i := 1; i < n; i++ {
		p := rng.Intn(i)
		edges[p] = append(edges[p], i)
		for k := rng.Intn(3); k > 0; k-- {
			edges[i] = append(edges[i], rng.Intn(n))
		}
	}
	return edges
}

func benchHeap(b *testing.B, s shape, n int) (*heap.Heap, heap.Roots) {
	b.Helper()
	h, objs := link(s(rand.New(rand.NewSource(1)), n))
	return h, heap.Roots{IDs: []heap.ObjID{objs[0].ID()}}
}

func BenchmarkDominators(b *testing.B) {
	for _, bc := range []struct {
		name  string
		shape shape
	}{
		{"tree", tree},
		{"dag", dag},
		{"heap", heapLike},
	} {
		for _, n := range []int{1000, 10000} {
			b.Run(fmt.Sprintf("%s/%d", bc.name, n), func(b *testing.B) {
				h, roots := benchHeap(b, bc.shape, n)
				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					Dominators(h, roots)
				}
			})
		}
	}
}

func BenchmarkRetainedSizes(b *testing.B) {
	h, roots := benchHeap(b, heapLike, 10000)
	ids := make([]heap.ObjID, 0, 64)
	h.ForEachObject(func(obj *heap.Object) {
		if len(ids) < cap(ids) {
			ids = append(ids, obj.ID())
		}
	})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		RetainedSizes(h, roots, ids)
	}
}
