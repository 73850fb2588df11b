package emergency

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrUnknownPatient       = errors.New("patient profile not found")
)

type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, int, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) error
}
