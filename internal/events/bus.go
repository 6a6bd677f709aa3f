package events

import "sync"

// LoadCompleted is published once a dropped file has been normalized,
// summarized, and published.
type LoadCompleted struct {
	LoadID      string `json:"load_id"`
	Filename    string `json:"filename"`
	Total       int    `json:"total"`
	Complete    int    `json:"complete"`
	TopCategory string `json:"top_category"`
}

// Bus provides simple in-process pub/sub for load events. Slow
// subscribers drop events rather than block the pipeline.
type Bus struct {
	mu   sync.RWMutex
	subs []chan LoadCompleted
}

func NewBus() *Bus { return &Bus{} }

func (b *Bus) Subscribe() <-chan LoadCompleted {
	ch := make(chan LoadCompleted, 16)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, ch)
	return ch
}

func (b *Bus) Publish(ev LoadCompleted) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
