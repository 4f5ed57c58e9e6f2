package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// CollectionName is the collection holding patient documents.
const CollectionName = "patients"

// mongoRecord pairs the stored ObjectID with the document body.
type mongoRecord struct {
	ID      primitive.ObjectID `bson:"_id"`
	Patient `bson:",inline"`
}

func (r *mongoRecord) toPatient() *Patient {
	p := r.Patient
	p.ID = r.ID.Hex()
	if p.Parameters == nil {
		p.Parameters = []Parameter{}
	}
	if p.Notes == nil {
		p.Notes = []Note{}
	}
	return &p
}

type patientRepoMongo struct {
	coll *mongo.Collection
}

// NewPatientRepoMongo returns a Repository over the patients collection and
// makes sure the unique uhiNo index exists.
func NewPatientRepoMongo(ctx context.Context, db *mongo.Database) (Repository, error) {
	r := &patientRepoMongo{coll: db.Collection(CollectionName)}
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "uhiNo", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uhiNo_unique"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index().SetName("status"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ensure patient indexes: %w", err)
	}
	return r, nil
}

var returnAfter = options.FindOneAndUpdate().SetReturnDocument(options.After)

func (r *patientRepoMongo) Create(ctx context.Context, p *Patient) error {
	rec := mongoRecord{ID: primitive.NewObjectID(), Patient: *p}
	if _, err := r.coll.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return DuplicateKeyf("patient with uhiNo %q already exists", p.UHINo)
		}
		return fmt.Errorf("insert patient: %w", err)
	}
	p.ID = rec.ID.Hex()
	return nil
}

func (r *patientRepoMongo) Count(ctx context.Context) (int, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("count patients: %w", err)
	}
	return int(n), nil
}

func (r *patientRepoMongo) ExistsByUHINo(ctx context.Context, uhiNo string) (bool, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{"uhiNo": uhiNo}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("lookup uhiNo: %w", err)
	}
	return n > 0, nil
}

func (r *patientRepoMongo) GetByUHINo(ctx context.Context, uhiNo string) (*Patient, error) {
	return decodeOne(r.coll.FindOne(ctx, bson.M{"uhiNo": uhiNo}), uhiNo)
}

func (r *patientRepoMongo) GetByID(ctx context.Context, id string) (*Patient, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, NotFoundf("patient %s not found", id)
	}
	return decodeOne(r.coll.FindOne(ctx, bson.M{"_id": oid}), id)
}

func (r *patientRepoMongo) ListByStatus(ctx context.Context, status Status) ([]*Patient, error) {
	cur, err := r.coll.Find(ctx, bson.M{"status": status}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find patients: %w", err)
	}
	var recs []mongoRecord
	if err := cur.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("decode patients: %w", err)
	}
	out := make([]*Patient, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toPatient())
	}
	return out, nil
}

func (r *patientRepoMongo) SetStatus(ctx context.Context, uhiNo string, status Status) (*Patient, error) {
	update := bson.M{"$set": bson.M{"status": status, "updatedAt": time.Now().UTC()}}
	return decodeOne(r.coll.FindOneAndUpdate(ctx, bson.M{"uhiNo": uhiNo}, update, returnAfter), uhiNo)
}

func (r *patientRepoMongo) SetVitals(ctx context.Context, id string, v Vitals) (*Patient, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, NotFoundf("patient %s not found", id)
	}
	update := bson.M{"$set": bson.M{
		"temperature":      v.Temperature,
		"respiratoryRate":  v.RespiratoryRate,
		"oxygenSaturation": v.OxygenSaturation,
		"jaundice":         v.Jaundice,
		"feet":             v.Feet,
		"weight":           v.Weight,
		"visitDate":        v.VisitDate,
		"updatedAt":        time.Now().UTC(),
	}}
	return decodeOne(r.coll.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, returnAfter), id)
}

// AppendReading pushes onto an existing series, or adds the series when the
// patient has none of this type yet. If another writer creates the series in
// between, the positional push is attempted once more.
func (r *patientRepoMongo) AppendReading(ctx context.Context, id, paramType string, reading Reading) (*Patient, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, NotFoundf("patient %s not found", id)
	}

	pushExisting := func() (*Patient, error) {
		filter := bson.M{"_id": oid, "parameters.type": paramType}
		update := bson.M{
			"$push": bson.M{"parameters.$.values": reading},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		}
		return decodeOne(r.coll.FindOneAndUpdate(ctx, filter, update, returnAfter), id)
	}

	p, err := pushExisting()
	if !errors.Is(err, ErrNotFound) {
		return p, err
	}

	filter := bson.M{"_id": oid, "parameters.type": bson.M{"$ne": paramType}}
	update := bson.M{
		"$push": bson.M{"parameters": Parameter{Type: paramType, Values: []Reading{reading}}},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	}
	p, err = decodeOne(r.coll.FindOneAndUpdate(ctx, filter, update, returnAfter), id)
	if !errors.Is(err, ErrNotFound) {
		return p, err
	}
	return pushExisting()
}

func (r *patientRepoMongo) AppendNote(ctx context.Context, id string, n Note) (*Patient, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, NotFoundf("patient %s not found", id)
	}
	update := bson.M{
		"$push": bson.M{"notes": n},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	}
	return decodeOne(r.coll.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, returnAfter), id)
}

func (r *patientRepoMongo) SetIntake(ctx context.Context, uhiNo string, in Intake) (*Patient, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if in.Details != nil {
		set["details"] = in.Details
	}
	if in.Analysis != nil {
		set["analysis"] = in.Analysis
	}
	if in.MaternalHealth != nil {
		set["maternalHealth"] = in.MaternalHealth
	}
	if in.PreviousBaby != nil {
		set["previousBaby"] = in.PreviousBaby
	}
	if in.FamilyHistory != nil {
		set["familyHistory"] = in.FamilyHistory
	}
	return decodeOne(r.coll.FindOneAndUpdate(ctx, bson.M{"uhiNo": uhiNo}, bson.M{"$set": set}, returnAfter), uhiNo)
}

func (r *patientRepoMongo) SetSummary(ctx context.Context, id, summary string) (*Patient, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, NotFoundf("patient %s not found", id)
	}
	update := bson.M{"$set": bson.M{"summary": summary, "updatedAt": time.Now().UTC()}}
	return decodeOne(r.coll.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, returnAfter), id)
}

func (r *patientRepoMongo) Ping(ctx context.Context) error {
	return r.coll.Database().Client().Ping(ctx, readpref.Primary())
}

func decodeOne(res *mongo.SingleResult, key string) (*Patient, error) {
	var rec mongoRecord
	if err := res.Decode(&rec); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, NotFoundf("patient %s not found", key)
		}
		return nil, fmt.Errorf("decode patient: %w", err)
	}
	return rec.toPatient(), nil
}
