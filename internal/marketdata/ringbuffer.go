package marketdata

import "sync/atomic"

// QuoteRingBuffer holds the most recent quotes lock-free. Writers never
// block readers; a torn window simply misses the newest entries.
type QuoteRingBuffer struct {
	quotes []atomic.Pointer[Quote]
	head   atomic.Uint64
	cap    uint64
}

func NewQuoteRingBuffer(capacity int) *QuoteRingBuffer {
	return &QuoteRingBuffer{
		quotes: make([]atomic.Pointer[Quote], capacity),
		cap:    uint64(capacity),
	}
}

func (rb *QuoteRingBuffer) Push(quote *Quote) {
	idx := rb.head.Add(1) - 1
	rb.quotes[idx%rb.cap].Store(quote)
}

func (rb *QuoteRingBuffer) Recent(n int) []*Quote {
	head := rb.head.Load()
	if head == 0 {
		return nil
	}

	count := uint64(n)
	if count > rb.cap {
		count = rb.cap
	}
	if count > head {
		count = head
	}

	result := make([]*Quote, 0, count)
	start := head - count
	for i := start; i < head; i++ {
		q := rb.quotes[i%rb.cap].Load()
		if q != nil {
			result = append(result, q)
		}
	}
	return result
}

func (rb *QuoteRingBuffer) Len() int {
	head := rb.head.Load()
	if head > rb.cap {
		return int(rb.cap)
	}
	return int(head)
}
