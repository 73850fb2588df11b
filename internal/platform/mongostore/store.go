// Package mongostore owns the MongoDB client used when STORE_BACKEND=mongo.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names.
const (
	Users              = "users"
	InstantRequests    = "instant_requests"
	Notifications      = "notifications"
	ConnectionRequests = "connection_requests"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials uri and pings the primary before returning.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

func (s *Store) Database() *mongo.Database { return s.db }

func (s *Store) Collection(name string) *mongo.Collection { return s.db.Collection(name) }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Stats reports the backend and database name on /health/db.
func (s *Store) Stats() interface{} {
	return map[string]string{"backend": "mongo", "database": s.db.Name()}
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates every index the repositories rely on. Safe to call on
// each start.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	for coll, models := range IndexModels() {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// IndexModels lists the indexes per collection. The partial unique index on
// instant_requests backs the one-pending-request-per-doctor rule; the one on
// connection_requests allows a single pending request per doctor and patient.
func IndexModels() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		Users: {
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetName("uq_users_email").SetUnique(true),
			},
			{
				Keys: bson.D{
					{Key: "user_type", Value: 1},
					{Key: "availability_status", Value: 1},
					{Key: "created_at", Value: 1},
				},
				Options: options.Index().SetName("idx_users_doctor_pool"),
			},
			{
				Keys:    bson.D{{Key: "doctor_ids", Value: 1}},
				Options: options.Index().SetName("idx_users_connected_doctors").SetSparse(true),
			},
		},
		InstantRequests: {
			{
				Keys: bson.D{{Key: "doctor_id", Value: 1}},
				Options: options.Index().
					SetName("uq_instant_requests_pending_doctor").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"status": "pending"}),
			},
			{
				Keys:    bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}},
				Options: options.Index().SetName("idx_instant_requests_expiry"),
			},
		},
		Notifications: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("idx_notifications_user"),
			},
		},
		ConnectionRequests: {
			{
				Keys: bson.D{{Key: "doctor_id", Value: 1}, {Key: "patient_id", Value: 1}},
				Options: options.Index().
					SetName("uq_connection_requests_pending_pair").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"status": "pending"}),
			},
			{
				Keys: bson.D{
					{Key: "patient_id", Value: 1},
					{Key: "status", Value: 1},
					{Key: "created_at", Value: -1},
				},
				Options: options.Index().SetName("idx_connection_requests_patient"),
			},
		},
	}
}
