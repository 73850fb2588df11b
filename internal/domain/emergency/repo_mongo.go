package emergency

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aarogya/aarogya/internal/platform/mongostore"
)

type notificationDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	Kind      string    `bson:"kind"`
	Title     string    `bson:"title"`
	Message   string    `bson:"message"`
	RequestID string    `bson:"request_id,omitempty"`
	MeetLink  string    `bson:"meet_link,omitempty"`
	Location  string    `bson:"location,omitempty"`
	IsRead    bool      `bson:"is_read"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d *notificationDoc) model() *Notification {
	n := &Notification{
		Kind:      d.Kind,
		Title:     d.Title,
		Message:   d.Message,
		MeetLink:  d.MeetLink,
		Location:  d.Location,
		IsRead:    d.IsRead,
		CreatedAt: d.CreatedAt,
	}
	n.ID, _ = uuid.Parse(d.ID)
	n.UserID, _ = uuid.Parse(d.UserID)
	if d.RequestID != "" {
		n.RequestID, _ = uuid.Parse(d.RequestID)
	}
	return n
}

type notificationRepoMongo struct{ coll *mongo.Collection }

func NewNotificationRepoMongo(store *mongostore.Store) NotificationRepository {
	return &notificationRepoMongo{coll: store.Collection(mongostore.Notifications)}
}

func (r *notificationRepoMongo) Create(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	n.CreatedAt = time.Now().UTC()
	doc := notificationDoc{
		ID:        n.ID.String(),
		UserID:    n.UserID.String(),
		Kind:      n.Kind,
		Title:     n.Title,
		Message:   n.Message,
		MeetLink:  n.MeetLink,
		Location:  n.Location,
		CreatedAt: n.CreatedAt,
	}
	if n.RequestID != uuid.Nil {
		doc.RequestID = n.RequestID.String()
	}
	_, err := r.coll.InsertOne(ctx, doc)
	return err
}

func (r *notificationRepoMongo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	filter := bson.M{"user_id": userID.String()}
	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	cur, err := r.coll.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit)))
	if err != nil {
		return nil, 0, err
	}
	var docs []notificationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, err
	}
	return lo.Map(docs, func(d notificationDoc, _ int) *Notification { return d.model() }), int(total), nil
}

func (r *notificationRepoMongo) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id.String(), "user_id": userID.String()},
		bson.M{"$set": bson.M{"is_read": true}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
