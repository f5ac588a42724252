package netalloc

import (
	"fmt"
	"math/rand"
	"net"
	"sync"

	"github.com/gravitational/trace"
)

// maxAttempts bounds the random probing before Allocate gives up.
const maxAttempts = 100

// PortAllocator reserves unique loopback ports within a configured range.
// It is the single source of truth for the port range inside the process.
type PortAllocator struct {
	mu       sync.Mutex
	min      int
	max      int
	reserved map[int]bool

	// verifyBind controls whether candidates are bind-tested against the OS.
	// Disabled in tests that allocate thousands of ports.
	verifyBind bool
}

// NewPortAllocator creates an allocator for the inclusive range [min, max].
func NewPortAllocator(min, max int) (*PortAllocator, error) {
	if min <= 0 || max > 65535 || min > max {
		return nil, trace.BadParameter("invalid port range [%d, %d]", min, max)
	}
	return &PortAllocator{
		min:        min,
		max:        max,
		reserved:   make(map[int]bool),
		verifyBind: true,
	}, nil
}

// WithoutBindCheck disables the OS-level bind probe. For tests.
func (a *PortAllocator) WithoutBindCheck() *PortAllocator {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.verifyBind = false
	return a
}

// Allocate reserves and returns a free port. Random selection reduces
// collision bias between concurrent allocators in the same range. Fails with
// a LimitExceeded error when no port can be reserved after a bounded number
// of attempts.
func (a *PortAllocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	span := a.max - a.min + 1
	if len(a.reserved) >= span {
		return 0, trace.LimitExceeded("no ports available in range [%d, %d]", a.min, a.max)
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		port := a.min + rand.Intn(span)
		if a.reserved[port] {
			continue
		}
		if a.verifyBind && !bindable(port) {
			continue
		}
		a.reserved[port] = true
		return port, nil
	}

	return 0, trace.LimitExceeded("no ports available in range [%d, %d] after %d attempts", a.min, a.max, maxAttempts)
}

// Release returns a port to the pool. Idempotent: releasing an unreserved
// port is a no-op.
func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.reserved, port)
}

// Reserved returns the number of currently reserved ports.
func (a *PortAllocator) Reserved() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reserved)
}

// IsReserved reports whether a port is currently reserved.
func (a *PortAllocator) IsReserved(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reserved[port]
}

// bindable verifies OS-level availability by briefly binding the port.
func bindable(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}
