package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoCollectionAppointments = "appointments"
	mongoCollectionEvents       = "event_logs"
	mongoCollectionPatients     = "patients"
)

type appointmentDocument struct {
	ID            string    `bson:"_id"`
	PatientID     string    `bson:"patientId"`
	PatientName   string    `bson:"patientName"`
	ClinicName    string    `bson:"clinicName"`
	Date          time.Time `bson:"date"`
	StartTime     time.Time `bson:"startTime"`
	EndTime       time.Time `bson:"endTime"`
	Status        string    `bson:"status"`
	TreatmentType string    `bson:"treatmentType"`
	CreatedAt     time.Time `bson:"createdAt"`
	UpdatedAt     time.Time `bson:"updatedAt"`
}

func toDocument(a Appointment) appointmentDocument {
	return appointmentDocument{
		ID:            a.ID.String(),
		PatientID:     a.PatientID,
		PatientName:   a.PatientName,
		ClinicName:    a.ClinicName,
		Date:          a.Date,
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		Status:        string(a.Status),
		TreatmentType: a.TreatmentType,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

// Mongo returns datetimes in UTC, which is also where naive values live.
func (d appointmentDocument) toAppointment() (Appointment, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return Appointment{}, fmt.Errorf("decode appointment id %q: %w", d.ID, err)
	}
	return Appointment{
		ID:            id,
		PatientID:     d.PatientID,
		PatientName:   d.PatientName,
		ClinicName:    d.ClinicName,
		Date:          d.Date.UTC(),
		StartTime:     d.StartTime.UTC(),
		EndTime:       d.EndTime.UTC(),
		Status:        AppointmentStatus(d.Status),
		TreatmentType: d.TreatmentType,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}, nil
}

type eventDocument struct {
	EventType     string    `bson:"eventType"`
	AppointmentID string    `bson:"appointmentId,omitempty"`
	Payload       bson.M    `bson:"payload,omitempty"`
	CreatedAt     time.Time `bson:"createdAt"`
}

type patientDocument struct {
	PatientID string `bson:"patientId"`
	Mobile    string `bson:"mobile"`
}

// MongoRepository stores appointments in MongoDB, mirroring the document
// shape the clinic front office already reads.
type MongoRepository struct {
	db           *mongo.Database
	appointments *mongo.Collection
	events       *mongo.Collection
	patients     *mongo.Collection
}

func NewMongoRepository(client *mongo.Client, dbName string) *MongoRepository {
	db := client.Database(dbName)
	return &MongoRepository{
		db:           db,
		appointments: db.Collection(mongoCollectionAppointments),
		events:       db.Collection(mongoCollectionEvents),
		patients:     db.Collection(mongoCollectionPatients),
	}
}

// EnsureIndexes creates the lookup index and the partial unique index that
// allows one scheduled appointment per patient and date.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.appointments.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "date", Value: 1}, {Key: "clinicName", Value: 1}},
			Options: options.Index().SetName("appointments_date_clinic"),
		},
		{
			Keys: bson.D{{Key: "patientId", Value: 1}, {Key: "date", Value: 1}},
			Options: options.Index().
				SetName(patientDayConstraint).
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": string(StatusScheduled)}),
		},
	})
	if err != nil {
		return fmt.Errorf("create appointment indexes: %w", err)
	}
	return nil
}

func mongoFilter(f Filter) bson.M {
	m := bson.M{}
	if f.Date != nil {
		m["date"] = *f.Date
	}
	if f.DateFrom != nil || f.DateTo != nil {
		rng := bson.M{}
		if f.DateFrom != nil {
			rng["$gte"] = *f.DateFrom
		}
		if f.DateTo != nil {
			rng["$lt"] = *f.DateTo
		}
		if f.Date != nil {
			rng["$eq"] = *f.Date
		}
		m["date"] = rng
	}
	if f.ClinicName != "" {
		m["clinicName"] = f.ClinicName
	}
	if f.PatientID != "" {
		m["patientId"] = f.PatientID
	}
	if f.Status != "" {
		m["status"] = string(f.Status)
	}
	return m
}

func (r *MongoRepository) Find(ctx context.Context, f Filter) ([]Appointment, error) {
	opts := options.Find()
	if f.SortBySchedule {
		opts.SetSort(bson.D{{Key: "date", Value: 1}, {Key: "startTime", Value: 1}})
	}

	cursor, err := r.appointments.Find(ctx, mongoFilter(f), opts)
	if err != nil {
		return nil, fmt.Errorf("find appointments: %w", err)
	}
	var docs []appointmentDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("iterate appointments: %w", err)
	}

	result := make([]Appointment, 0, len(docs))
	for _, d := range docs {
		a, err := d.toAppointment()
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, nil
}

func (r *MongoRepository) FindOne(ctx context.Context, f Filter) (*Appointment, error) {
	return r.decodeOne(r.appointments.FindOne(ctx, mongoFilter(f)))
}

func (r *MongoRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.decodeOne(r.appointments.FindOne(ctx, bson.M{"_id": id.String()}))
}

func (r *MongoRepository) Insert(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	if _, err := r.appointments.InsertOne(ctx, toDocument(a)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicateSameDay
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return &a, nil
}

func (r *MongoRepository) UpdateByID(ctx context.Context, id uuid.UUID, c Changes) (*Appointment, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if c.PatientID != nil {
		set["patientId"] = *c.PatientID
	}
	if c.PatientName != nil {
		set["patientName"] = *c.PatientName
	}
	if c.ClinicName != nil {
		set["clinicName"] = *c.ClinicName
	}
	if c.Date != nil {
		set["date"] = *c.Date
	}
	if c.StartTime != nil {
		set["startTime"] = *c.StartTime
	}
	if c.EndTime != nil {
		set["endTime"] = *c.EndTime
	}
	if c.TreatmentType != nil {
		set["treatmentType"] = *c.TreatmentType
	}
	if c.Status != nil {
		set["status"] = string(*c.Status)
	}

	filter := bson.M{"_id": id.String()}
	if c.ExpectStatus != nil {
		filter["status"] = string(*c.ExpectStatus)
	}

	res := r.appointments.FindOneAndUpdate(ctx, filter, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After))
	if err := res.Err(); err != nil && mongo.IsDuplicateKeyError(err) {
		return nil, ErrDuplicateSameDay
	}
	return r.decodeOne(res)
}

func (r *MongoRepository) DeleteByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.decodeOne(r.appointments.FindOneAndDelete(ctx, bson.M{"_id": id.String()}))
}

func (r *MongoRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	doc := eventDocument{
		EventType: ev.EventType,
		CreatedAt: ev.CreatedAt,
	}
	if ev.AppointmentID != nil {
		doc.AppointmentID = ev.AppointmentID.String()
	}
	if len(ev.Payload) > 0 {
		var payload bson.M
		if err := bson.UnmarshalExtJSON(ev.Payload, false, &payload); err == nil {
			doc.Payload = payload
		}
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	if _, err := r.events.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func (r *MongoRepository) LookupContact(ctx context.Context, patientID string) (string, bool, error) {
	var p patientDocument
	err := r.patients.FindOne(ctx, bson.M{"patientId": patientID}).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lookup patient contact: %w", err)
	}
	if p.Mobile == "" {
		return "", false, nil
	}
	return p.Mobile, true, nil
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.db.Client().Ping(ctx, nil)
}

func (r *MongoRepository) decodeOne(res *mongo.SingleResult) (*Appointment, error) {
	var doc appointmentDocument
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	a, err := doc.toAppointment()
	if err != nil {
		return nil, err
	}
	return &a, nil
}
