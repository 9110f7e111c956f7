package spot

import (
	"math/big"
	"sync"
	"time"

	"nhbcdp/native/fixed"
)

// StaticFeed is a settable price source. A zero or unset price reads as
// unavailable, as does a price older than MaxAge when MaxAge is positive.
type StaticFeed struct {
	MaxAge time.Duration

	mu      sync.RWMutex
	price   *big.Int
	updated time.Time
	now     func() time.Time
}

// NewStaticFeed returns a feed holding price (wad). A nil price starts the
// feed in the unavailable state.
func NewStaticFeed(price *big.Int) *StaticFeed {
	f := &StaticFeed{now: time.Now}
	if price != nil {
		f.Set(price)
	}
	return f
}

// Set stores a new price.
func (f *StaticFeed) Set(price *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = fixed.Clone(price)
	f.updated = f.clock()
}

// Clear marks the feed unavailable.
func (f *StaticFeed) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = nil
}

func (f *StaticFeed) Peek() (*big.Int, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.price == nil || f.price.Sign() <= 0 {
		return nil, false
	}
	if f.MaxAge > 0 && f.clock().Sub(f.updated) > f.MaxAge {
		return nil, false
	}
	return fixed.Clone(f.price), true
}

// Updated reports when the price was last set.
func (f *StaticFeed) Updated() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.updated
}

func (f *StaticFeed) clock() time.Time {
	if f.now == nil {
		return time.Now()
	}
	return f.now()
}
