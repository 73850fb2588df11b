package directory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aarogya/aarogya/internal/platform/mongostore"
)

// userDoc is the shared users collection shape. Doctors and patients are
// told apart by user_type.
type userDoc struct {
	ID                 string    `bson:"_id"`
	Email              string    `bson:"email"`
	FirstName          string    `bson:"first_name"`
	LastName           string    `bson:"last_name"`
	UserType           string    `bson:"user_type"`
	Specialization     string    `bson:"specialization,omitempty"`
	AvailabilityStatus string    `bson:"availability_status,omitempty"`
	IsPublic           bool      `bson:"is_public"`
	IsAuthorized       bool      `bson:"is_authorized"`
	DoctorIDs          []string  `bson:"doctor_ids,omitempty"`
	CreatedAt          time.Time `bson:"created_at"`
	UpdatedAt          time.Time `bson:"updated_at"`
}

func (u *userDoc) doctor() *Doctor {
	id, _ := uuid.Parse(u.ID)
	return &Doctor{
		ID:                 id,
		Email:              u.Email,
		FirstName:          u.FirstName,
		LastName:           u.LastName,
		Specialization:     u.Specialization,
		AvailabilityStatus: Availability(u.AvailabilityStatus),
		IsPublic:           u.IsPublic,
		IsAuthorized:       u.IsAuthorized,
		CreatedAt:          u.CreatedAt,
		UpdatedAt:          u.UpdatedAt,
	}
}

func (u *userDoc) patient() *Patient {
	id, _ := uuid.Parse(u.ID)
	p := &Patient{
		ID:        id,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		CreatedAt: u.CreatedAt,
	}
	for _, s := range u.DoctorIDs {
		if did, err := uuid.Parse(s); err == nil {
			p.DoctorIDs = append(p.DoctorIDs, did)
		}
	}
	return p
}

var registrationOrder = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

// =========== Doctor Repository ===========

type doctorRepoMongo struct{ coll *mongo.Collection }

func NewDoctorRepoMongo(store *mongostore.Store) DoctorRepository {
	return &doctorRepoMongo{coll: store.Collection(mongostore.Users)}
}

func (r *doctorRepoMongo) Create(ctx context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	_, err := r.coll.InsertOne(ctx, userDoc{
		ID:                 d.ID.String(),
		Email:              d.Email,
		FirstName:          d.FirstName,
		LastName:           d.LastName,
		UserType:           "doctor",
		Specialization:     d.Specialization,
		AvailabilityStatus: string(d.AvailabilityStatus),
		IsPublic:           d.IsPublic,
		IsAuthorized:       d.IsAuthorized,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (r *doctorRepoMongo) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var doc userDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String(), "user_type": "doctor"}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrDoctorNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.doctor(), nil
}

func mongoEligible() bson.M {
	return bson.M{
		"user_type":           "doctor",
		"availability_status": string(Available),
		"is_public":           true,
		"is_authorized":       true,
	}
}

// specialtyPattern builds a case-insensitive alternation of the literal terms.
func specialtyPattern(terms []string) string {
	quoted := lo.FilterMap(terms, func(t string, _ int) (string, bool) {
		t = strings.TrimSpace(t)
		return regexp.QuoteMeta(t), t != ""
	})
	return strings.Join(quoted, "|")
}

func (r *doctorRepoMongo) FindAvailable(ctx context.Context, q DoctorQuery) (*Doctor, error) {
	filter := mongoEligible()
	if pattern := specialtyPattern(q.SpecialtyTerms); pattern != "" {
		filter["specialization"] = bson.M{"$regex": pattern, "$options": "i"}
	}
	var doc userDoc
	err := r.coll.FindOne(ctx, filter, options.FindOne().SetSort(registrationOrder)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.doctor(), nil
}

func (r *doctorRepoMongo) findAll(ctx context.Context, filter bson.M) ([]*Doctor, error) {
	cur, err := r.coll.Find(ctx, filter, options.Find().SetSort(registrationOrder))
	if err != nil {
		return nil, err
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return lo.Map(docs, func(d userDoc, _ int) *Doctor { return d.doctor() }), nil
}

func (r *doctorRepoMongo) ListAvailableByIDs(ctx context.Context, ids []uuid.UUID) ([]*Doctor, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	filter := mongoEligible()
	filter["_id"] = bson.M{"$in": lo.Map(ids, func(id uuid.UUID, _ int) string { return id.String() })}
	return r.findAll(ctx, filter)
}

// swapStatus flips availability_status from -> to in a single conditional
// update. ModifiedCount tells whether this caller won.
func (r *doctorRepoMongo) swapStatus(ctx context.Context, id uuid.UUID, from, to Availability) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id.String(), "user_type": "doctor", "availability_status": string(from)},
		bson.M{"$set": bson.M{"availability_status": string(to), "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1 && res.ModifiedCount == 1, nil
}

func (r *doctorRepoMongo) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.swapStatus(ctx, id, Available, Busy)
}

func (r *doctorRepoMongo) Release(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.swapStatus(ctx, id, Busy, Available)
}

func (r *doctorRepoMongo) update(ctx context.Context, id uuid.UUID, set bson.M) error {
	set["updated_at"] = time.Now().UTC()
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id.String(), "user_type": "doctor"}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

func (r *doctorRepoMongo) SetAvailability(ctx context.Context, id uuid.UUID, from, to Availability) (bool, error) {
	return r.swapStatus(ctx, id, from, to)
}

func (r *doctorRepoMongo) SetPublic(ctx context.Context, id uuid.UUID, isPublic bool, from Availability) (bool, error) {
	set := bson.M{"is_public": isPublic, "updated_at": time.Now().UTC()}
	if !isPublic {
		set["availability_status"] = string(Offline)
	}
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id.String(), "user_type": "doctor", "availability_status": string(from)},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (r *doctorRepoMongo) SetAuthorized(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, id, bson.M{"is_authorized": true})
}

func (r *doctorRepoMongo) ListPublic(ctx context.Context) ([]*Doctor, error) {
	return r.findAll(ctx, bson.M{"user_type": "doctor", "is_public": true, "is_authorized": true})
}

func (r *doctorRepoMongo) ListUnauthorized(ctx context.Context) ([]*Doctor, error) {
	return r.findAll(ctx, bson.M{"user_type": "doctor", "is_authorized": false})
}

// =========== Patient Repository ===========

type patientRepoMongo struct{ coll *mongo.Collection }

func NewPatientRepoMongo(store *mongostore.Store) PatientRepository {
	return &patientRepoMongo{coll: store.Collection(mongostore.Users)}
}

func (r *patientRepoMongo) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	_, err := r.coll.InsertOne(ctx, userDoc{
		ID:        p.ID.String(),
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		UserType:  "patient",
		DoctorIDs: lo.Map(p.DoctorIDs, func(id uuid.UUID, _ int) string { return id.String() }),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (r *patientRepoMongo) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var doc userDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String(), "user_type": "patient"}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.patient(), nil
}

func (r *patientRepoMongo) Connect(ctx context.Context, patientID, doctorID uuid.UUID) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": patientID.String(), "user_type": "patient"},
		bson.M{"$addToSet": bson.M{"doctor_ids": doctorID.String()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrPatientNotFound
	}
	return nil
}

// =========== Connection Repository ===========

type connectionDoc struct {
	ID             string     `bson:"_id"`
	DoctorID       string     `bson:"doctor_id"`
	PatientID      string     `bson:"patient_id"`
	DoctorName     string     `bson:"doctor_name"`
	Specialization string     `bson:"specialization"`
	Status         string     `bson:"status"`
	CreatedAt      time.Time  `bson:"created_at"`
	RespondedAt    *time.Time `bson:"responded_at,omitempty"`
}

func (d *connectionDoc) model() *ConnectionRequest {
	id, _ := uuid.Parse(d.ID)
	doctorID, _ := uuid.Parse(d.DoctorID)
	patientID, _ := uuid.Parse(d.PatientID)
	return &ConnectionRequest{
		ID:             id,
		DoctorID:       doctorID,
		PatientID:      patientID,
		DoctorName:     d.DoctorName,
		Specialization: d.Specialization,
		Status:         ConnectionStatus(d.Status),
		CreatedAt:      d.CreatedAt,
		RespondedAt:    d.RespondedAt,
	}
}

type connectionRepoMongo struct {
	coll  *mongo.Collection
	users *mongo.Collection
}

func NewConnectionRepoMongo(store *mongostore.Store) ConnectionRepository {
	return &connectionRepoMongo{
		coll:  store.Collection(mongostore.ConnectionRequests),
		users: store.Collection(mongostore.Users),
	}
}

func (r *connectionRepoMongo) Create(ctx context.Context, c *ConnectionRequest) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := r.coll.InsertOne(ctx, connectionDoc{
		ID:             c.ID.String(),
		DoctorID:       c.DoctorID.String(),
		PatientID:      c.PatientID.String(),
		DoctorName:     c.DoctorName,
		Specialization: c.Specialization,
		Status:         string(c.Status),
		CreatedAt:      c.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrConnectionPending
	}
	return err
}

func (r *connectionRepoMongo) FindOpen(ctx context.Context, doctorID, patientID uuid.UUID) (*ConnectionRequest, error) {
	var doc connectionDoc
	err := r.coll.FindOne(ctx,
		bson.M{
			"doctor_id":  doctorID.String(),
			"patient_id": patientID.String(),
			"status":     bson.M{"$in": []string{string(ConnectionPending), string(ConnectionAccepted)}},
		},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.model(), nil
}

func (r *connectionRepoMongo) ListPendingForPatient(ctx context.Context, patientID uuid.UUID) ([]*ConnectionRequest, error) {
	cur, err := r.coll.Find(ctx,
		bson.M{"patient_id": patientID.String(), "status": string(ConnectionPending)},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	)
	if err != nil {
		return nil, err
	}
	var docs []connectionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return lo.Map(docs, func(d connectionDoc, _ int) *ConnectionRequest { return d.model() }), nil
}

// Respond flips the request first. If the link write then fails the request
// is put back to pending so the patient can accept again.
func (r *connectionRepoMongo) Respond(ctx context.Context, id, patientID uuid.UUID, to ConnectionStatus, at time.Time) (*ConnectionRequest, error) {
	var doc connectionDoc
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id.String(), "patient_id": patientID.String(), "status": string(ConnectionPending)},
		bson.M{"$set": bson.M{"status": string(to), "responded_at": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, err
	}
	if to != ConnectionAccepted {
		return doc.model(), nil
	}

	_, err = r.users.UpdateOne(ctx,
		bson.M{"_id": patientID.String(), "user_type": "patient"},
		bson.M{"$addToSet": bson.M{"doctor_ids": doc.DoctorID}},
	)
	if err != nil {
		_, _ = r.coll.UpdateOne(ctx,
			bson.M{"_id": id.String(), "status": string(ConnectionAccepted)},
			bson.M{"$set": bson.M{"status": string(ConnectionPending)}, "$unset": bson.M{"responded_at": ""}},
		)
		return nil, fmt.Errorf("link doctor %s: %w", doc.DoctorID, err)
	}
	return doc.model(), nil
}
