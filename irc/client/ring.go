package client

// TargetChangeRing is the fixed-size FIFO of opaque target fingerprints used
// to throttle unsolicited private messages (spec 3 "target-change ring
// buffer", 4.D scenario S5). A separate set of reply-only slots is exempt
// from the throttle: replying to someone who just messaged you never counts
// against your target budget.
type TargetChangeRing struct {
	capacity   int
	replySlots int
	slots      []uint32
	replies    []uint32
	set        map[uint32]bool
}

// NewTargetChangeRing builds a ring with room for capacity distinct targets
// plus replySlots reply-only insertions kept apart from them (spec 3, spec
// 4.D S5: 20 normal slots).
func NewTargetChangeRing(capacity, replySlots int) *TargetChangeRing {
	return &TargetChangeRing{
		capacity:   capacity,
		replySlots: replySlots,
		set:        make(map[uint32]bool, capacity),
	}
}

// Contains reports whether fingerprint already occupies a slot.
func (r *TargetChangeRing) Contains(fingerprint uint32) bool {
	return r.set[fingerprint]
}

// TryAdd attempts to occupy a normal (non-reply) slot for fingerprint. It
// returns false if the ring is full and fingerprint is new (spec 4.D S5:
// the 21st distinct target is refused).
func (r *TargetChangeRing) TryAdd(fingerprint uint32) bool {
	if r.set[fingerprint] {
		return true
	}
	if len(r.slots) >= r.capacity {
		return false
	}
	r.slots = append(r.slots, fingerprint)
	r.set[fingerprint] = true
	return true
}

// AddReplySlot always succeeds: adding the source of an incoming message to
// the recipient's reply-ring is permitted even when the ring is otherwise
// full (spec 4.D S5: "adding the source IP to the reply-target ring of the
// recipient is still permitted").
func (r *TargetChangeRing) AddReplySlot(fingerprint uint32) {
	if r.set[fingerprint] {
		return
	}
	r.set[fingerprint] = true
	r.replies = append(r.replies, fingerprint)
	// trim the oldest reply entries beyond replySlots; normal slots are untouched
	for len(r.replies) > r.replySlots {
		oldest := r.replies[0]
		r.replies = r.replies[1:]
		delete(r.set, oldest)
	}
}

// Len reports the number of occupied slots, normal and reply-only.
func (r *TargetChangeRing) Len() int { return len(r.slots) + len(r.replies) }
