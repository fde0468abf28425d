package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/hackgods/dental-appointment-scheduling/internal/appointment"
	"github.com/hackgods/dental-appointment-scheduling/internal/config"
	"github.com/hackgods/dental-appointment-scheduling/internal/db"
	"github.com/hackgods/dental-appointment-scheduling/internal/logging"
	redisclient "github.com/hackgods/dental-appointment-scheduling/internal/redis"
)

var (
	clinics    = []string{"Indiranagar", "Koramangala", "Whitefield", "Jayanagar"}
	treatments = []string{
		"Cleaning",
		"Filling",
		"Root canal",
		"Extraction",
		"Crown fitting",
		"Braces adjustment",
		"Whitening",
		"Consultation",
	}
)

type patient struct {
	ID     string
	Name   string
	Mobile string
	Email  string
}

type seedStore interface {
	appointment.Repository
	appointment.PatientDirectory
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("seed starting", zap.String("store", cfg.StoreDriver))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	patients := fakePatients(500)

	var repo seedStore
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("connect postgres", zap.Error(err))
		}
		defer pool.Close()
		if err := db.EnsureSchema(ctx, pool); err != nil {
			logger.Fatal("ensure schema", zap.Error(err))
		}
		if err := seedPatientsPostgres(ctx, pool, patients, logger); err != nil {
			logger.Fatal("seed patients", zap.Error(err))
		}
		repo = appointment.NewPgRepository(pool)

	case config.StoreDriverMongo:
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			logger.Fatal("connect mongo", zap.Error(err))
		}
		defer func() { _ = client.Disconnect(context.Background()) }()
		mongoRepo := appointment.NewMongoRepository(client, cfg.MongoDatabase)
		if err := mongoRepo.EnsureIndexes(ctx); err != nil {
			logger.Fatal("ensure indexes", zap.Error(err))
		}
		if err := seedPatientsMongo(ctx, client.Database(cfg.MongoDatabase), patients, logger); err != nil {
			logger.Fatal("seed patients", zap.Error(err))
		}
		repo = mongoRepo

	default:
		logger.Fatal("seed needs a persistent store, set STORE_DRIVER to postgres or mongo")
	}

	svc := appointment.NewService(repo, repo, redisclient.NewLocalLocker(), nil, cfg, logger.Named("scheduler"))
	if err := seedToday(ctx, svc, patients, logger); err != nil {
		logger.Fatal("seed appointments", zap.Error(err))
	}

	logger.Info("seed complete")
}

func fakePatients(count int) []patient {
	out := make([]patient, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, patient{
			ID:     fmt.Sprintf("PAT-%05d", i+1),
			Name:   gofakeit.Name(),
			Mobile: gofakeit.Phone(),
			Email:  gofakeit.Email(),
		})
	}
	return out
}

func seedPatientsPostgres(ctx context.Context, pool *pgxpool.Pool, patients []patient, logger *zap.Logger) error {
	logger.Info("seeding patients", zap.Int("count", len(patients)))

	const batchSize = 250

	for offset := 0; offset < len(patients); offset += batchSize {
		end := offset + batchSize
		if end > len(patients) {
			end = len(patients)
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for _, p := range patients[offset:end] {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, mobile, email, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, mobile = EXCLUDED.mobile, updated_at = now()
			`, p.ID, p.Name, p.Mobile, p.Email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Info("patients seeded", zap.Int("done", end), zap.Int("total", len(patients)))
	}

	return nil
}

func seedPatientsMongo(ctx context.Context, database *mongo.Database, patients []patient, logger *zap.Logger) error {
	logger.Info("seeding patients", zap.Int("count", len(patients)))

	coll := database.Collection("patients")
	models := make([]mongo.WriteModel, 0, len(patients))
	for _, p := range patients {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"patientId": p.ID}).
			SetUpdate(bson.M{"$set": bson.M{
				"patientId": p.ID,
				"name":      p.Name,
				"mobile":    p.Mobile,
				"email":     p.Email,
			}}).
			SetUpsert(true))
	}

	res, err := coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("upsert patients: %w", err)
	}
	logger.Info("patients seeded", zap.Int64("upserted", res.UpsertedCount), zap.Int64("modified", res.ModifiedCount))
	return nil
}

// seedToday books half-hour appointments across today's working hours through
// the scheduling engine, so every seeded row passed admission.
func seedToday(ctx context.Context, svc *appointment.Service, patients []patient, logger *zap.Logger) error {
	date := time.Now().Format("2006-01-02")

	var admitted, rejected int
	for hour := 9; hour < 18; hour++ {
		for _, minute := range []int{0, 30} {
			p := patients[gofakeit.Number(0, len(patients)-1)]
			start := fmt.Sprintf("%02d:%02d", hour, minute)
			end := fmt.Sprintf("%02d:%02d", hour+(minute+30)/60, (minute+30)%60)

			_, err := svc.CreateAppointment(ctx, appointment.CreateRequest{
				PatientID:     p.ID,
				PatientName:   p.Name,
				Date:          date,
				StartTime:     start,
				EndTime:       end,
				TreatmentType: gofakeit.RandomString(treatments),
				ClinicName:    gofakeit.RandomString(clinics),
			})
			var conflict *appointment.ConflictError
			switch {
			case err == nil:
				admitted++
			case errors.As(err, &conflict):
				rejected++
			default:
				return err
			}
		}
	}

	logger.Info("appointments seeded",
		zap.String("date", date),
		zap.Int("admitted", admitted),
		zap.Int("rejected", rejected),
	)
	return nil
}
