package consultant

// Store exposes consultant retrieval for HTTP handlers.
type Store interface {
	List() []Consultant
	FindByID(id string) (Consultant, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Consultant
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied consultants.
func NewMemoryStore(items []Consultant) *MemoryStore {
	return &MemoryStore{items: append([]Consultant(nil), items...)}
}

// List returns the consultant list.
func (s *MemoryStore) List() []Consultant {
	return append([]Consultant(nil), s.items...)
}

// FindByID looks up a consultant by identifier.
func (s *MemoryStore) FindByID(id string) (Consultant, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Consultant{}, false
}
