package copytrade

// tradeWindow is a bounded FIFO of a user's recent trade sizes keyed by
// transaction hash. It exists only for volume estimation, never for replay.
type tradeWindow struct {
	capacity int
	order    []string
	sizes    map[string]float64
}

func newTradeWindow(capacity int) *tradeWindow {
	return &tradeWindow{
		capacity: capacity,
		sizes:    make(map[string]float64, capacity),
	}
}

// Insert adds a trade size under its hash. Re-inserting a known hash is a
// no-op: the window size and volume are unchanged. Inserting beyond
// capacity evicts exactly the oldest entry.
func (w *tradeWindow) Insert(txHash string, size float64) bool {
	if _, ok := w.sizes[txHash]; ok {
		return false
	}
	w.order = append(w.order, txHash)
	w.sizes[txHash] = size
	if len(w.order) > w.capacity {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.sizes, oldest)
	}
	return true
}

// Volume sums the window's sizes, excluding the given hash so a trade never
// counts against its own scaling.
func (w *tradeWindow) Volume(excludeHash string) float64 {
	var total float64
	for hash, size := range w.sizes {
		if hash == excludeHash {
			continue
		}
		total += size
	}
	return total
}

// Len returns the number of entries in the window.
func (w *tradeWindow) Len() int { return len(w.order) }
