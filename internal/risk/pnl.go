package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PnLTracker accumulates realized P&L and cycle outcomes for the current
// UTC day. Counters reset automatically on date rollover.
type PnLTracker struct {
	mu sync.RWMutex

	dailyPnL     decimal.Decimal
	cycleCount   int
	successCount int
	lastReset    time.Time
}

func NewPnLTracker() *PnLTracker {
	return &PnLTracker{
		lastReset: todayUTC(),
	}
}

func todayUTC() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func (p *PnLTracker) checkDailyReset() {
	today := todayUTC()
	if today.After(p.lastReset) {
		p.dailyPnL = decimal.Zero
		p.cycleCount = 0
		p.successCount = 0
		p.lastReset = today
	}
}

func (p *PnLTracker) AddRealized(amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkDailyReset()
	p.dailyPnL = p.dailyPnL.Add(amount)
}

func (p *PnLTracker) RecordCycle(success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkDailyReset()
	p.cycleCount++
	if success {
		p.successCount++
	}
}

func (p *PnLTracker) DailyStats() (decimal.Decimal, int, int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dailyPnL, p.cycleCount, p.successCount
}
