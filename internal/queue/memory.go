package queue

import (
	"context"
	"sync"

	"github.com/xtrntr/spotex/internal/models"
)

// Memory is an in-process Queue
type Memory struct {
	mu    sync.Mutex
	items []models.Order
	ready chan struct{}
}

func NewMemory() *Memory {
	return &Memory{ready: make(chan struct{}, 1)}
}

func (q *Memory) Enqueue(ctx context.Context, order *models.Order) error {
	q.mu.Lock()
	q.items = append(q.items, *order)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

func (q *Memory) Dequeue(ctx context.Context) (*models.Order, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			o := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return &o, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.ready:
		}
	}
}

// Len reports the number of orders waiting
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
