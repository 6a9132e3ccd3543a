package risk

import "sync/atomic"

// Holder publishes the current Service. Readers never block; a reload stores
// a new Service instead of mutating the old one.
type Holder struct {
	current atomic.Pointer[Service]
}

func NewHolder(s *Service) *Holder {
	h := &Holder{}
	if s != nil {
		h.current.Store(s)
	}
	return h
}

// Load returns the current service, or nil before the first Store.
func (h *Holder) Load() *Service {
	return h.current.Load()
}

// Store swaps in s and returns the previous service.
func (h *Holder) Store(s *Service) *Service {
	return h.current.Swap(s)
}
