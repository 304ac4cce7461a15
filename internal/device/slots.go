package device

// SlotPool hands out effect slots from a fixed pool with an explicit
// free-list, so exhaustion is a normal allocation failure instead of an
// overwrite of someone else's slot.
type SlotPool struct {
	free []EffectHandle
	size int
}

func NewSlotPool(size int) *SlotPool {
	p := &SlotPool{size: size}
	for i := size - 1; i >= 0; i-- {
		p.free = append(p.free, EffectHandle(i))
	}
	return p
}

// Acquire returns the next free slot, or false when the pool is exhausted.
func (p *SlotPool) Acquire() (EffectHandle, bool) {
	if len(p.free) == 0 {
		return 0, false
	}
	h := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return h, true
}

// Release returns a slot to the pool. Releasing an out-of-range slot is
// ignored.
func (p *SlotPool) Release(h EffectHandle) {
	if h < 0 || int(h) >= p.size {
		return
	}
	for _, f := range p.free {
		if f == h {
			return
		}
	}
	p.free = append(p.free, h)
}

// InUse reports how many slots are currently allocated.
func (p *SlotPool) InUse() int {
	return p.size - len(p.free)
}

// Size is the total slot count of the pool.
func (p *SlotPool) Size() int {
	return p.size
}
