package sandbox

import (
	"fmt"
	"sync"

	"github.com/devcrew/devcrew/internal/common/apperr"
)

// PortAllocator hands out host ports from a fixed inclusive range and
// tracks which are in use. Safe for concurrent use.
type PortAllocator struct {
	mu    sync.Mutex
	start int
	end   int
	inUse map[int]struct{}
}

// NewPortAllocator creates an allocator over [start, end].
func NewPortAllocator(start, end int) *PortAllocator {
	return &PortAllocator{
		start: start,
		end:   end,
		inUse: make(map[int]struct{}),
	}
}

// Acquire returns the lowest free port in the range.
func (a *PortAllocator) Acquire() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for port := a.start; port <= a.end; port++ {
		if _, taken := a.inUse[port]; !taken {
			a.inUse[port] = struct{}{}
			return port, nil
		}
	}
	return 0, apperr.New(apperr.KindSandbox, "no available host ports")
}

// Release frees a port. Releasing a port that is not held is a no-op.
func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	delete(a.inUse, port)
	a.mu.Unlock()
}

// Reserve marks a specific port as in use, for restart recovery when
// a surviving container already holds host-port bindings.
func (a *PortAllocator) Reserve(port int) error {
	if port < a.start || port > a.end {
		return apperr.New(apperr.KindSandbox,
			fmt.Sprintf("port %d outside allocator range [%d, %d]", port, a.start, a.end))
	}
	a.mu.Lock()
	a.inUse[port] = struct{}{}
	a.mu.Unlock()
	return nil
}

// InUse reports the number of held ports.
func (a *PortAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}
