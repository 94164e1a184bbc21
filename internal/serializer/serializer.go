// Package serializer enforces the system's strongest correctness
// invariant: no two device operations may overlap in time, across any
// front-end, across any device, across any job. It wraps a Transport with
// a single process-wide mutex guarding the whole of Exchange.
package serializer

import (
	"context"
	"sync"

	"github.com/sandgrain/gatemediator/internal/transport"
)

// Serializer decorates a transport.Transport with a single global lock.
// The per-device quiet period enforced inside Transport is layered on top
// of this, not a substitute for it: Serializer is what guarantees at most
// one Exchange call is in flight anywhere in the process, regardless of
// which device or front-end initiated it.
type Serializer struct {
	mu   sync.Mutex
	next transport.Transport
}

// New wraps next with the global exclusion lock.
func New(next transport.Transport) *Serializer {
	return &Serializer{next: next}
}

// Exchange implements transport.Transport, serialized against every other
// call made through this Serializer.
func (s *Serializer) Exchange(ctx context.Context, endpoint string, frame transport.Frame) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Exchange(ctx, endpoint, frame)
}
