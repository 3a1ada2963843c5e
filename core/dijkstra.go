package core

import (
	"container/heap"

	"github.com/encodeous/meshlink/state"
)

type frontierEntry struct {
	dest state.UUID
	// hop is the edge from self towards the first hop of the path
	hop  state.MeshEdge
	cost int64
}

// frontier is a min-heap on cost, ties are broken by destination then next hop id so that the result
// does not depend on map iteration order
type frontier []frontierEntry

func (f frontier) Len() int { return len(f) }
func (f frontier) Less(i, j int) bool {
	if f[i].cost != f[j].cost {
		return f[i].cost < f[j].cost
	}
	if c := f[i].dest.Compare(f[j].dest); c != 0 {
		return c < 0
	}
	return f[i].hop.SecondUid.Less(f[j].hop.SecondUid)
}
func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x any)   { *f = append(*f, x.(frontierEntry)) }
func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	x := old[n-1]
	*f = old[:n-1]
	return x
}

// computePaths runs Dijkstra from self over matrix. For every reachable destination it returns only the edge to
// the immediate next hop, with Cost replaced by the total path cost. Self maps to a zero cost edge onto itself.
func computePaths(self state.UUID, matrix map[state.UUID]map[state.UUID]state.MeshEdge) map[state.UUID]state.MeshEdge {
	paths := make(map[state.UUID]state.MeshEdge)
	paths[self] = state.MeshEdge{FirstUid: self, SecondUid: self}

	f := &frontier{}
	for next, edge := range matrix[self] {
		heap.Push(f, frontierEntry{dest: next, hop: edge, cost: int64(edge.Cost)})
	}

	for f.Len() > 0 {
		cur := heap.Pop(f).(frontierEntry)
		if _, settled := paths[cur.dest]; settled {
			continue
		}
		hop := cur.hop
		hop.Cost = int32(min(cur.cost, int64(^uint32(0)>>1)))
		paths[cur.dest] = hop

		for next, edge := range matrix[cur.dest] {
			if _, settled := paths[next]; settled {
				continue
			}
			heap.Push(f, frontierEntry{dest: next, hop: cur.hop, cost: cur.cost + int64(edge.Cost)})
		}
	}
	return paths
}
