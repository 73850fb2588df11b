package emergency

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aarogya/aarogya/internal/platform/db"
)

type notificationRepoPG struct{ pool *pgxpool.Pool }

func NewNotificationRepoPG(pool *pgxpool.Pool) NotificationRepository {
	return &notificationRepoPG{pool: pool}
}

func (r *notificationRepoPG) conn() db.Querier { return r.pool }

const notificationCols = `id, user_id, kind, title, message, request_id, meet_link, location, is_read, created_at`

func (r *notificationRepoPG) scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	var requestID *uuid.UUID
	var meetLink *string
	err := row.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Message, &requestID, &meetLink,
		&n.Location, &n.IsRead, &n.CreatedAt)
	if requestID != nil {
		n.RequestID = *requestID
	}
	if meetLink != nil {
		n.MeetLink = *meetLink
	}
	return &n, err
}

func (r *notificationRepoPG) Create(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	var requestID *uuid.UUID
	if n.RequestID != uuid.Nil {
		requestID = &n.RequestID
	}
	var meetLink *string
	if n.MeetLink != "" {
		meetLink = &n.MeetLink
	}
	return r.conn().QueryRow(ctx, `
		INSERT INTO notifications (id, user_id, kind, title, message, request_id, meet_link, location)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		n.ID, n.UserID, n.Kind, n.Title, n.Message, requestID, meetLink, n.Location,
	).Scan(&n.CreatedAt)
}

func (r *notificationRepoPG) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	var total int
	if err := r.conn().QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn().Query(ctx, `SELECT `+notificationCols+` FROM notifications
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Notification
	for rows.Next() {
		n, err := r.scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}

func (r *notificationRepoPG) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := r.conn().Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
