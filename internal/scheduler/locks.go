package scheduler

import (
	"sync"

	"tileseam/internal/types"
)

// tileMutexes hands out one mutex per tile. Pairs lock both of their tiles
// in ascending order, so two pairs sharing a tile never deadlock.
type tileMutexes struct {
	mu    sync.Mutex
	locks map[types.TileID]*sync.Mutex
}

func newTileMutexes() *tileMutexes {
	return &tileMutexes{locks: make(map[types.TileID]*sync.Mutex)}
}

func (m *tileMutexes) get(id types.TileID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// lockPair locks a and b and returns the unlock function.
func (m *tileMutexes) lockPair(a, b types.TileID) func() {
	first, second := orderedPair(a, b)
	l1, l2 := m.get(first), m.get(second)
	l1.Lock()
	l2.Lock()
	return func() {
		l2.Unlock()
		l1.Unlock()
	}
}

func orderedPair(a, b types.TileID) (types.TileID, types.TileID) {
	if b.Less(a) {
		return b, a
	}
	return a, b
}
