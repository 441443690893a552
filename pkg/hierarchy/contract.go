package hierarchy

// shortcut represents a shortcut edge to be added.
type shortcut struct {
	from, to uint32
	weight   uint32
}

// findShortcuts determines which shortcuts are needed when contracting a
// node, with one witness search per incoming neighbor.
func (b *builder) findShortcuts(node uint32) []shortcut {
	var incoming, outgoing []adjEntry
	for _, e := range b.inAdj[node] {
		if !b.removed[e.to] {
			incoming = append(incoming, e)
		}
	}
	for _, e := range b.outAdj[node] {
		if !b.removed[e.to] {
			outgoing = append(outgoing, e)
		}
	}
	if len(incoming) == 0 || len(outgoing) == 0 {
		return nil
	}

	var shortcuts []shortcut
	for _, in := range incoming {
		var maxOut uint32
		for _, out := range outgoing {
			if out.to != in.to && out.weight > maxOut {
				maxOut = out.weight
			}
		}
		if maxOut == 0 {
			continue // all outgoing go back to in.to
		}

		batchWitnessSearch(b.ws, b.outAdj, in.to, node, in.weight+maxOut, b.removed)

		for _, out := range outgoing {
			if out.to == in.to {
				continue
			}
			w := in.weight + out.weight
			// A witness at most as long as the detour makes the shortcut redundant.
			if b.ws.dist[out.to] > w {
				shortcuts = append(shortcuts, shortcut{from: in.to, to: out.to, weight: w})
			}
		}
	}
	return shortcuts
}

// priority returns the contraction priority of a node (lower goes first):
// edge difference plus penalties for removed neighbors and depth.
func (b *builder) priority(node uint32, contractedNeighbors, depth int) int {
	activeIn := 0
	for _, e := range b.inAdj[node] {
		if !b.removed[e.to] {
			activeIn++
		}
	}
	activeOut := 0
	for _, e := range b.outAdj[node] {
		if !b.removed[e.to] {
			activeOut++
		}
	}
	edgeDifference := activeIn*activeOut - (activeIn + activeOut)
	return edgeDifference + 2*contractedNeighbors + depth
}

type pqEntry struct {
	node     uint32
	priority int
	index    int
}

type priorityQueue []*pqEntry

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority < pq[j].priority
	}
	return pq[i].node < pq[j].node
}
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	entry := x.(*pqEntry)
	entry.index = len(*pq)
	*pq = append(*pq, entry)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*pq = old[:n-1]
	return entry
}
