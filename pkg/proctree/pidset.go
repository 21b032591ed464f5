package proctree

// PIDSet is an insertion-ordered set of process IDs. Pop removes from
// the front, so the set doubles as a FIFO work queue.
type PIDSet struct {
	order []int
	index map[int]struct{}
}

// NewPIDSet returns a set holding pids in order, duplicates dropped.
func NewPIDSet(pids ...int) *PIDSet {
	s := &PIDSet{index: make(map[int]struct{}, len(pids))}
	for _, pid := range pids {
		s.Add(pid)
	}
	return s
}

// Add appends pid unless it is already present and reports whether it
// was added.
func (s *PIDSet) Add(pid int) bool {
	if s.index == nil {
		s.index = make(map[int]struct{})
	}
	if _, ok := s.index[pid]; ok {
		return false
	}
	s.index[pid] = struct{}{}
	s.order = append(s.order, pid)
	return true
}

func (s *PIDSet) Contains(pid int) bool {
	_, ok := s.index[pid]
	return ok
}

// Pop removes and returns the oldest pid.
func (s *PIDSet) Pop() (int, bool) {
	if len(s.order) == 0 {
		return 0, false
	}
	pid := s.order[0]
	s.order = s.order[1:]
	delete(s.index, pid)
	return pid, true
}

func (s *PIDSet) Len() int {
	return len(s.order)
}

// Slice returns a copy of the pids in insertion order.
func (s *PIDSet) Slice() []int {
	out := make([]int, len(s.order))
	copy(out, s.order)
	return out
}
