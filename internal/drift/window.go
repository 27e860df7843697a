package drift

import "hybriddb/internal/domain"

// window is a fixed-capacity FIFO of type tags with running counts.
type window struct {
	tags  []domain.TypeTag
	head  int // index of the oldest entry once full
	size  int
	count map[domain.TypeTag]int
	// seq of the last push of each tag, for the recency tie-break
	lastSeen map[domain.TypeTag]uint64
	seq      uint64
}

func newWindow(capacity int) *window {
	return &window{
		tags:     make([]domain.TypeTag, capacity),
		count:    make(map[domain.TypeTag]int),
		lastSeen: make(map[domain.TypeTag]uint64),
	}
}

func (w *window) push(tag domain.TypeTag) {
	if w.size == len(w.tags) {
		old := w.tags[w.head]
		w.count[old]--
		if w.count[old] == 0 {
			delete(w.count, old)
		}
		w.tags[w.head] = tag
		w.head = (w.head + 1) % len(w.tags)
	} else {
		w.tags[(w.head+w.size)%len(w.tags)] = tag
		w.size++
	}
	w.count[tag]++
	w.seq++
	w.lastSeen[tag] = w.seq
}

func (w *window) len() int { return w.size }

func (w *window) share(tag domain.TypeTag) float64 {
	if w.size == 0 {
		return 0
	}
	return float64(w.count[tag]) / float64(w.size)
}

// dominant returns the most frequent tag. On a tie the incumbent wins if
// it is among the leaders, otherwise the leader pushed most recently.
func (w *window) dominant(incumbent domain.TypeTag) domain.TypeTag {
	best := 0
	for _, n := range w.count {
		if n > best {
			best = n
		}
	}
	if best == 0 {
		return incumbent
	}
	if w.count[incumbent] == best {
		return incumbent
	}
	var pick domain.TypeTag
	var pickSeq uint64
	for tag, n := range w.count {
		if n == best && w.lastSeen[tag] >= pickSeq {
			pick, pickSeq = tag, w.lastSeen[tag]
		}
	}
	return pick
}

// snapshot returns the window contents, oldest first.
func (w *window) snapshot() []domain.TypeTag {
	out := make([]domain.TypeTag, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.tags[(w.head+i)%len(w.tags)]
	}
	return out
}
