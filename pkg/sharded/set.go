package sharded

// Set is a sharded set of strings.
type Set struct {
	m *Map[struct{}]
}

func NewSet(numShards int) *Set {
	return &Set{m: NewMap[struct{}](numShards)}
}

func (s *Set) Store(key string) { s.m.Store(key, struct{}{}) }

func (s *Set) Has(key string) bool {
	_, ok := s.m.Load(key)
	return ok
}

// LoadOrStore ensures a key is present in the set, returning true if it was already present.
func (s *Set) LoadOrStore(key string) (loaded bool) {
	_, loaded = s.m.LoadOrStore(key, struct{}{})
	return loaded
}

func (s *Set) Delete(key string) { s.m.Delete(key) }

func (s *Set) Count() int { return s.m.Count() }
