package editor

import (
	"sync"
	"time"

	"surveyor/internal/model"
)

// TempIDs hands out temporary ids: the negative millisecond clock value,
// forced strictly decreasing so two ids in the same millisecond never
// collide. Temporary ids are negative and durable ids positive, so the two
// spaces never overlap.
type TempIDs struct {
	mu   sync.Mutex
	last model.ID
	now  func() time.Time
}

func NewTempIDs(now func() time.Time) *TempIDs {
	if now == nil {
		now = time.Now
	}
	return &TempIDs{now: now}
}

func (t *TempIDs) Next() model.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := model.ID(-t.now().UnixMilli())
	if id >= 0 {
		id = -1
	}
	if t.last != 0 && id >= t.last {
		id = t.last - 1
	}
	t.last = id
	return id
}
