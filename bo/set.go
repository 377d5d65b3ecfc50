package bo

// Set is the per-job registry of buffer objects.
//
// Every BO referenced by any of a job's control lists must be added to
// the job's set before submission; the kernel uses the resulting handle
// list to page the job's memory in. Insertion is idempotent and
// iteration order is the order of first insertion, so submissions are
// reproducible.
//
// Set is not safe for concurrent use: it is owned by a single job,
// which is owned by a single command buffer (recording is
// single-threaded per command buffer).
type Set struct {
	ordered []*BO
	members map[Handle]struct{}
}

// NewSet creates an empty BO set.
func NewSet() *Set {
	return &Set{members: map[Handle]struct{}{}}
}

// Add registers a BO with the set. Adding a BO twice is a no-op.
func (s *Set) Add(b *BO) {
	if b == nil {
		return
	}
	if _, ok := s.members[b.Handle]; ok {
		return
	}
	s.members[b.Handle] = struct{}{}
	s.ordered = append(s.ordered, b)
}

// Contains reports whether the BO is in the set.
func (s *Set) Contains(b *BO) bool {
	if b == nil {
		return false
	}
	_, ok := s.members[b.Handle]
	return ok
}

// Len returns the number of registered BOs.
func (s *Set) Len() int { return len(s.ordered) }

// All returns the registered BOs in insertion order.
// The returned slice is owned by the set and must not be mutated.
func (s *Set) All() []*BO { return s.ordered }

// Handles returns the kernel handle list for submission, in insertion
// order.
func (s *Set) Handles() []Handle {
	hs := make([]Handle, len(s.ordered))
	for i, b := range s.ordered {
		hs[i] = b.Handle
	}
	return hs
}
