package chat

import "container/list"

// recentIDs remembers the last N message ids so echoes of an already
// applied message are ignored. Oldest ids are evicted first.
type recentIDs struct {
	max   int
	seen  map[int64]*list.Element
	order *list.List
}

func newRecentIDs(max int) *recentIDs {
	return &recentIDs{
		max:   max,
		seen:  make(map[int64]*list.Element),
		order: list.New(),
	}
}

// Mark records id and reports whether it was new.
func (r *recentIDs) Mark(id int64) bool {
	if _, ok := r.seen[id]; ok {
		return false
	}
	if len(r.seen) >= r.max {
		if front := r.order.Front(); front != nil {
			r.order.Remove(front)
			delete(r.seen, front.Value.(int64))
		}
	}
	r.seen[id] = r.order.PushBack(id)
	return true
}

func (r *recentIDs) Reset() {
	r.seen = make(map[int64]*list.Element)
	r.order.Init()
}
