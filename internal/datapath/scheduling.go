package datapath

import (
	"sort"

	"github.com/ssw-net/vswitchd-core/pkg/portset"
	"github.com/ssw-net/vswitchd-core/pkg/worker"
)

// scheduleRxqs assigns every worker-eligible port's receive queues to a
// worker on the same NUMA node, least-loaded first. It is a pure function
// of ports and workerIDsByNode apart from one side effect: it stamps each
// port's RxqWorker slice with the chosen assignment, for management
// inspection (§4.8). Grounded on dpif-netdev.c's rxq_scheduling: assign
// each queue to whichever candidate worker on its node currently carries
// the fewest queues, breaking ties by lowest worker id for determinism.
func scheduleRxqs(ports []*portset.Port, workerIDsByNode map[int][]int) map[int][]worker.RxQueueAssignment {
	assignments := make(map[int][]worker.RxQueueAssignment)
	load := make(map[int]int)

	sorted := append([]*portset.Port(nil), ports...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	for _, p := range sorted {
		if !p.WorkerEligible() {
			continue
		}
		ids := append([]int(nil), workerIDsByNode[p.NumaID]...)
		sort.Ints(ids)
		if len(ids) == 0 {
			p.RxqWorker = nil
			continue
		}

		if len(p.RxqWorker) != p.RxQueues {
			p.RxqWorker = make([]int, p.RxQueues)
		}
		for q := 0; q < p.RxQueues; q++ {
			best := ids[0]
			for _, id := range ids[1:] {
				if load[id] < load[best] {
					best = id
				}
			}
			p.RxqWorker[q] = best
			load[best]++
			assignments[best] = append(assignments[best], worker.RxQueueAssignment{Port: p.Number, Queue: q})
		}
	}

	return assignments
}
