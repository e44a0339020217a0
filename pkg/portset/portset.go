// Package portset implements the port/queue registry (C8): per-port driver
// handle, RX queue set, NUMA id, and poll-mode flag, plus the transmit
// queue identity convention each worker relies on. Grounded on the
// teacher's registry-with-RWMutex idiom (seen in its service-discovery and
// task-manager packages).
package portset

import (
	"sync"

	"github.com/ssw-net/vswitchd-core/pkg/driver"
	dperrors "github.com/ssw-net/vswitchd-core/pkg/errors"
)

// Port describes one registered port.
type Port struct {
	Number   uint32
	Name     string
	DevType  string
	Handle   driver.Handle
	NumaID   int
	PollMode bool
	RxQueues int

	// RxqWorker maps rx queue index -> assigned worker id. Populated by
	// the datapath root's scheduling pass (§4.7); nil when no worker runs
	// on the port's NUMA node.
	RxqWorker []int
}

// WorkerEligible reports whether this port can host a worker: only
// poll-mode ports require (and justify) a dedicated polling thread.
func (p *Port) WorkerEligible() bool { return p.PollMode }

// Set is the registry of all ports known to a datapath.
type Set struct {
	mu      sync.RWMutex
	byNum   map[uint32]*Port
	byName  map[string]*Port
	nextNum uint32
}

// New creates an empty port set. User-assigned port numbers start at 1;
// 0 is reserved (matches the convention that port 0 is never a real port).
func New() *Set {
	return &Set{
		byNum:   make(map[uint32]*Port),
		byName:  make(map[string]*Port),
		nextNum: 1,
	}
}

// Add registers a port. If number is 0 the next free number is allocated.
// Returns PortExists if the name or the requested number is already taken.
func (s *Set) Add(name string, number uint32, p *Port) (*Port, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[name]; ok {
		return nil, dperrors.PortExists("portset", "Add", "port name already registered: "+name)
	}
	if number == 0 {
		for {
			if _, ok := s.byNum[s.nextNum]; !ok {
				number = s.nextNum
				break
			}
			s.nextNum++
		}
	} else if _, ok := s.byNum[number]; ok {
		return nil, dperrors.PortExists("portset", "Add", "port number already in use")
	}

	p.Number = number
	p.Name = name
	s.byNum[number] = p
	s.byName[name] = p
	if number >= s.nextNum {
		s.nextNum = number + 1
	}
	return p, nil
}

// Remove unregisters a port by number. The port named "local" (the
// protected local port in OVS convention carried over here) may never be
// removed, whatever its number.
func (s *Set) Remove(number uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byNum[number]
	if !ok {
		return dperrors.PortNotFound("portset", "Remove", "no such port")
	}
	if p.Name == "local" {
		return dperrors.PortLocalProtected("portset", "Remove", "the local port cannot be removed")
	}
	delete(s.byNum, number)
	delete(s.byName, p.Name)
	return nil
}

// Rename changes a port's user-visible name without affecting its number
// or queue assignments.
func (s *Set) Rename(number uint32, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byNum[number]
	if !ok {
		return dperrors.PortNotFound("portset", "Rename", "no such port")
	}
	if _, taken := s.byName[newName]; taken {
		return dperrors.PortExists("portset", "Rename", "name already in use")
	}
	delete(s.byName, p.Name)
	p.Name = newName
	s.byName[newName] = p
	return nil
}

// Renumber reassigns a port's number, used by management renumber (§8
// Scenario E).
func (s *Set) Renumber(oldNumber, newNumber uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byNum[oldNumber]
	if !ok {
		return dperrors.PortNotFound("portset", "Renumber", "no such port")
	}
	if _, taken := s.byNum[newNumber]; taken {
		return dperrors.PortExists("portset", "Renumber", "number already in use")
	}
	delete(s.byNum, oldNumber)
	p.Number = newNumber
	s.byNum[newNumber] = p
	return nil
}

// Get returns the port registered under number.
func (s *Set) Get(number uint32) (*Port, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byNum[number]
	return p, ok
}

// GetByName returns the port registered under name.
func (s *Set) GetByName(name string) (*Port, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byName[name]
	return p, ok
}

// List returns every registered port. The slice is a snapshot copy.
func (s *Set) List() []*Port {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Port, 0, len(s.byNum))
	for _, p := range s.byNum {
		out = append(out, p)
	}
	return out
}

// NumaNodes returns the set of distinct NUMA ids among worker-eligible
// ports.
func (s *Set) NumaNodes() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[int]bool)
	var nodes []int
	for _, p := range s.byNum {
		if !p.WorkerEligible() {
			continue
		}
		if !seen[p.NumaID] {
			seen[p.NumaID] = true
			nodes = append(nodes, p.NumaID)
		}
	}
	return nodes
}

// NonWorkerTxQueueID is the tx-queue identity reserved for the non-worker
// pseudo-thread: numCores, one past the last real worker's queue id
// (§4.8).
func NonWorkerTxQueueID(numCores int) uint32 { return uint32(numCores) }
