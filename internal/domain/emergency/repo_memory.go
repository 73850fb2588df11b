package emergency

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type NotificationRepoMemory struct {
	mu    sync.Mutex
	items []*Notification
}

func NewNotificationRepoMemory() *NotificationRepoMemory {
	return &NotificationRepoMemory{}
}

func (r *NotificationRepoMemory) Create(_ context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	n.CreatedAt = time.Now().UTC()
	cp := *n
	r.items = append(r.items, &cp)
	return nil
}

func (r *NotificationRepoMemory) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Notification
	for i := len(r.items) - 1; i >= 0; i-- {
		if n := r.items[i]; n.UserID == userID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (r *NotificationRepoMemory) MarkRead(_ context.Context, userID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.items {
		if n.ID == id && n.UserID == userID {
			n.IsRead = true
			return nil
		}
	}
	return ErrNotificationNotFound
}
