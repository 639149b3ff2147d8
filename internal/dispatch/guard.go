package dispatch

import "sync/atomic"

// deliveryGuard lets exactly one caller through, however many race for it.
type deliveryGuard struct {
	fired atomic.Bool
}

// Acquire returns true for the first caller only.
func (g *deliveryGuard) Acquire() bool {
	return g.fired.CompareAndSwap(false, true)
}

func (g *deliveryGuard) Fired() bool {
	return g.fired.Load()
}
