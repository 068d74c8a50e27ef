package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"env-dashboard/internal/reading"
)

// Memory je úložiště v paměti procesu.
//
// Zamykání je dvouúrovňové:
//   - mu chrání mapu zařízení (vznik shardu, DeleteAll),
//   - každý shard má vlastní zámek, takže různá zařízení se navzájem neblokují.
type Memory struct {
	seq atomic.Int64

	mu     sync.RWMutex
	shards map[int]*shard
}

type shard struct {
	mu   sync.RWMutex
	rows []reading.Reading
}

// NewMemory vytvoří prázdné úložiště.
func NewMemory() *Memory {
	return &Memory{shards: make(map[int]*shard)}
}

func (m *Memory) Insert(ctx context.Context, r reading.Reading) (reading.Reading, error) {
	if err := ctx.Err(); err != nil {
		return reading.Reading{}, storageErr("insert", err)
	}
	if err := r.Validate(0); err != nil {
		return reading.Reading{}, err
	}

	m.mu.RLock()
	sh, ok := m.shards[r.DeviceID]
	if ok {
		// Držíme RLock po celou dobu zápisu, aby DeleteAll nemohl
		// mapu vyměnit uprostřed insertu.
		defer m.mu.RUnlock()
		return sh.append(r, &m.seq), nil
	}
	m.mu.RUnlock()

	// Shard ještě neexistuje -> potřebujeme zápisový zámek na mapu.
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok = m.shards[r.DeviceID]
	if !ok {
		sh = &shard{}
		m.shards[r.DeviceID] = sh
	}
	return sh.append(r, &m.seq), nil
}

func (s *shard) append(r reading.Reading, seq *atomic.Int64) reading.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Seq = seq.Add(1)
	s.rows = append(s.rows, r)
	return r
}

// snapshot vrací kopii řádků zařízení (nil, pokud zařízení nic nemá).
func (m *Memory) snapshot(deviceID int) []reading.Reading {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sh, ok := m.shards[deviceID]
	if !ok {
		return nil
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	out := make([]reading.Reading, len(sh.rows))
	copy(out, sh.rows)
	return out
}

func (m *Memory) QueryByDevice(ctx context.Context, deviceID int) ([]reading.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("query", err)
	}
	rows := m.snapshot(deviceID)
	if rows == nil {
		rows = []reading.Reading{}
	}
	return rows, nil
}

func (m *Memory) QueryRecent(ctx context.Context, deviceID, count int) ([]reading.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("query recent", err)
	}
	if count < 1 {
		count = 1
	}
	rows := m.snapshot(deviceID)
	reading.SortNewestFirst(rows)
	if len(rows) > count {
		rows = rows[:count]
	}
	if rows == nil {
		rows = []reading.Reading{}
	}
	return rows, nil
}

func (m *Memory) QueryWindow(ctx context.Context, deviceID int, from, to time.Time) ([]reading.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("query window", err)
	}
	out := []reading.Reading{}
	for _, r := range m.snapshot(deviceID) {
		if r.ReadingDate.Before(from) {
			continue
		}
		if !to.IsZero() && !r.ReadingDate.Before(to) {
			continue
		}
		out = append(out, r)
	}
	reading.SortOldestFirst(out)
	return out, nil
}

func (m *Memory) QueryLatestAll(ctx context.Context) (map[int]reading.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("query latest", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[int]reading.Reading, len(m.shards))
	for id, sh := range m.shards {
		sh.mu.RLock()
		for i, r := range sh.rows {
			if i == 0 || r.Newer(out[id]) {
				out[id] = r
			}
		}
		sh.mu.RUnlock()
	}
	return out, nil
}

func (m *Memory) DeleteByDevice(ctx context.Context, deviceID int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, storageErr("delete", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.shards[deviceID]
	if !ok {
		return false, nil
	}
	delete(m.shards, deviceID)

	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.rows) > 0, nil
}

func (m *Memory) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return storageErr("delete all", err)
	}
	m.mu.Lock()
	m.shards = make(map[int]*shard)
	m.mu.Unlock()
	return nil
}

// Close nic nedělá, paměť uvolní GC.
func (m *Memory) Close() {}
