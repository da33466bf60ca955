package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/uma-arai/sbcntr-scheduler/internal/model"
)

type memoryEntry struct {
	slots   []model.SlotStatus
	expires time.Time
}

// MemoryAvailabilityCache はプロセス内で空き状況を保持します
type MemoryAvailabilityCache struct {
	mu          sync.Mutex
	ttl         time.Duration
	now         func() time.Time
	entries     map[string]memoryEntry
	generations map[string]int64
}

func NewMemoryAvailabilityCache(ttl time.Duration) *MemoryAvailabilityCache {
	return &MemoryAvailabilityCache{
		ttl:         normalizeTTL(ttl),
		now:         time.Now,
		entries:     make(map[string]memoryEntry),
		generations: make(map[string]int64),
	}
}

func (c *MemoryAvailabilityCache) Get(ctx context.Context, date time.Time, scope model.Scope) (Lookup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	gen := c.generations[dateKey(date)]
	key := entryKey(date, scope, gen)
	e, ok := c.entries[key]
	if !ok {
		return Lookup{Generation: gen}, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return Lookup{Generation: gen}, nil
	}
	return Lookup{
		Slots:      append([]model.SlotStatus(nil), e.slots...),
		Hit:        true,
		Generation: gen,
	}, nil
}

// Set は世代が現在と異なる場合は何もしません
func (c *MemoryAvailabilityCache) Set(ctx context.Context, date time.Time, scope model.Scope, generation int64, slots []model.SlotStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generations[dateKey(date)] {
		return nil
	}
	c.entries[entryKey(date, scope, generation)] = memoryEntry{
		slots:   append([]model.SlotStatus(nil), slots...),
		expires: c.now().Add(c.ttl),
	}
	return nil
}

func (c *MemoryAvailabilityCache) InvalidateDate(ctx context.Context, date time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generations[dateKey(date)]++

	prefix := dateKey(date) + ":"
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	return nil
}
