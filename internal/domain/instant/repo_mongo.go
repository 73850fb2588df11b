package instant

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aarogya/aarogya/internal/platform/mongostore"
)

type matchDoc struct {
	ID             string     `bson:"_id"`
	Kind           string     `bson:"kind"`
	PatientID      string     `bson:"patient_id"`
	DoctorID       *string    `bson:"doctor_id"`
	PatientName    string     `bson:"patient_name"`
	DoctorName     string     `bson:"doctor_name"`
	Specialization string     `bson:"specialization"`
	Symptoms       string     `bson:"symptoms"`
	Location       string     `bson:"location,omitempty"`
	Status         string     `bson:"status"`
	MeetLink       *string    `bson:"meet_link"`
	CreatedAt      time.Time  `bson:"created_at"`
	ExpiresAt      time.Time  `bson:"expires_at"`
	AcceptedAt     *time.Time `bson:"accepted_at,omitempty"`
	ClosedAt       *time.Time `bson:"closed_at,omitempty"`
}

func toMatchDoc(m *MatchRequest) matchDoc {
	d := matchDoc{
		ID:             m.ID.String(),
		Kind:           string(m.Kind),
		PatientID:      m.PatientID.String(),
		PatientName:    m.PatientName,
		DoctorName:     m.DoctorName,
		Specialization: m.Specialization,
		Symptoms:       m.Symptoms,
		Location:       m.Location,
		Status:         string(m.Status),
		CreatedAt:      m.CreatedAt,
		ExpiresAt:      m.ExpiresAt,
		AcceptedAt:     m.AcceptedAt,
		ClosedAt:       m.ClosedAt,
	}
	if m.HasDoctor() {
		d.DoctorID = lo.ToPtr(m.DoctorID.String())
	}
	if m.MeetLink != "" {
		d.MeetLink = lo.ToPtr(m.MeetLink)
	}
	return d
}

func (d *matchDoc) model() *MatchRequest {
	m := &MatchRequest{
		Kind:           Kind(d.Kind),
		PatientName:    d.PatientName,
		DoctorName:     d.DoctorName,
		Specialization: d.Specialization,
		Symptoms:       d.Symptoms,
		Location:       d.Location,
		Status:         Status(d.Status),
		MeetLink:       lo.FromPtr(d.MeetLink),
		CreatedAt:      d.CreatedAt,
		ExpiresAt:      d.ExpiresAt,
		AcceptedAt:     d.AcceptedAt,
		ClosedAt:       d.ClosedAt,
	}
	m.ID, _ = uuid.Parse(d.ID)
	m.PatientID, _ = uuid.Parse(d.PatientID)
	if d.DoctorID != nil {
		m.DoctorID, _ = uuid.Parse(*d.DoctorID)
	}
	return m
}

type matchRepoMongo struct{ coll *mongo.Collection }

func NewMatchRepoMongo(store *mongostore.Store) MatchRepository {
	return &matchRepoMongo{coll: store.Collection(mongostore.InstantRequests)}
}

func (r *matchRepoMongo) Create(ctx context.Context, m *MatchRequest) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := r.coll.InsertOne(ctx, toMatchDoc(m))
	return err
}

func (r *matchRepoMongo) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*MatchRequest, error) {
	var doc matchDoc
	if err := r.coll.FindOne(ctx, filter, opts...).Decode(&doc); err != nil {
		return nil, err
	}
	return doc.model(), nil
}

func (r *matchRepoMongo) GetByID(ctx context.Context, id uuid.UUID) (*MatchRequest, error) {
	m, err := r.findOne(ctx, bson.M{"_id": id.String()})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	return m, err
}

func (r *matchRepoMongo) FindPendingByDoctor(ctx context.Context, doctorID uuid.UUID) (*MatchRequest, error) {
	m, err := r.findOne(ctx,
		bson.M{"doctor_id": doctorID.String(), "status": string(StatusPending)},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	return m, err
}

// Transition uses FindOneAndUpdate with a status filter so the read and the
// write are one atomic step on the server.
func (r *matchRepoMongo) Transition(ctx context.Context, id uuid.UUID, to Status, f TransitionFields) (*MatchRequest, error) {
	set := bson.M{"status": string(to), "closed_at": f.At}
	if to == StatusAccepted {
		set["meet_link"] = f.MeetLink
		set["accepted_at"] = f.At
	}
	var doc matchDoc
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id.String(), "status": string(StatusPending)},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrTransitionConflict
	}
	if err != nil {
		return nil, err
	}
	return doc.model(), nil
}

func (r *matchRepoMongo) Complete(ctx context.Context, id, doctorID uuid.UUID, at time.Time) (*MatchRequest, error) {
	var doc matchDoc
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id.String(), "doctor_id": doctorID.String(), "status": string(StatusAccepted)},
		bson.M{"$set": bson.M{"status": string(StatusCompleted), "closed_at": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrTransitionConflict
	}
	if err != nil {
		return nil, err
	}
	return doc.model(), nil
}

func (r *matchRepoMongo) findMany(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*MatchRequest, error) {
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []matchDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return lo.Map(docs, func(d matchDoc, _ int) *MatchRequest { return d.model() }), nil
}

func (r *matchRepoMongo) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*MatchRequest, error) {
	return r.findMany(ctx,
		bson.M{"status": string(StatusPending), "expires_at": bson.M{"$lt": now}},
		options.Find().SetSort(bson.D{{Key: "expires_at", Value: 1}}).SetLimit(int64(limit)),
	)
}

func (r *matchRepoMongo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MatchRequest, int, error) {
	filter := bson.M{"patient_id": patientID.String()}
	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.findMany(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit)))
	if err != nil {
		return nil, 0, err
	}
	return items, int(total), nil
}
