package kiln

// NextPoolSize decides the pool size for the next tick from the current number of workers,
// how many of them are busy, the capacity (0 for unbounded) and the growth of the previous
// tick. While a worker is idle the pool shrinks to the busy workers plus that one idle
// worker. Without an idle worker the growth doubles on every tick (1, 3, 7, ...) until
// the capacity is reached.
func NextPoolSize(current int, busy int, capacity int, previous int) (int, int) {
	if busy < 0 {
		busy = 0
	}

	if busy < current {
		return busy + 1, 0
	}

	var growth = previous*2 + 1

	if capacity > 0 && current+growth > capacity {
		if growth = capacity - current; growth < 0 {
			growth = 0
		}
	}

	return current + growth, growth
}
