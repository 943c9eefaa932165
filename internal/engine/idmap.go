package engine

// IDMap is a bidirectional mapping between engine order handles and backend
// native order ids. Pairs are learned incrementally; a later Register for the
// same handle or native id replaces the earlier pair on both sides, so the
// two directions always agree.
//
// IDMap is not safe for concurrent use. The Engine owns it and only touches
// it from its event loop.
type IDMap struct {
	native map[string]string // handle -> native id
	handle map[string]string // native id -> handle
}

// NewIDMap creates an empty IDMap.
func NewIDMap() *IDMap {
	return &IDMap{
		native: make(map[string]string),
		handle: make(map[string]string),
	}
}

// Register records that handle and native refer to the same order. Empty
// arguments are ignored.
func (m *IDMap) Register(handle, native string) {
	if handle == "" || native == "" {
		return
	}
	if old, ok := m.native[handle]; ok && old != native {
		delete(m.handle, old)
	}
	if old, ok := m.handle[native]; ok && old != handle {
		delete(m.native, old)
	}
	m.native[handle] = native
	m.handle[native] = handle
}

// Native returns the native id registered for handle.
func (m *IDMap) Native(handle string) (string, bool) {
	n, ok := m.native[handle]
	return n, ok
}

// Handle returns the engine handle registered for a native id.
func (m *IDMap) Handle(native string) (string, bool) {
	h, ok := m.handle[native]
	return h, ok
}

// Len returns the number of registered pairs.
func (m *IDMap) Len() int {
	return len(m.native)
}
