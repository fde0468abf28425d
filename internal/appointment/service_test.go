package appointment_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/dental-appointment-scheduling/internal/appointment"
	"github.com/hackgods/dental-appointment-scheduling/internal/config"
	"github.com/hackgods/dental-appointment-scheduling/internal/notification"
	redisclient "github.com/hackgods/dental-appointment-scheduling/internal/redis"
)

var today = time.Date(2024, 6, 1, 10, 30, 0, 0, time.Local)

type recordingNotifier struct {
	mu   sync.Mutex
	reqs []appointment.NotificationRequest
}

func (n *recordingNotifier) Notify(ctx context.Context, req appointment.NotificationRequest) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reqs = append(n.reqs, req)
}

func (n *recordingNotifier) Requests() []appointment.NotificationRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]appointment.NotificationRequest(nil), n.reqs...)
}

type failingDirectory struct{}

func (failingDirectory) LookupContact(ctx context.Context, patientID string) (string, bool, error) {
	return "", false, errors.New("patients collection unavailable")
}

type busyLocker struct{}

func (busyLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

type fixture struct {
	svc      *appointment.Service
	repo     *appointment.MemoryRepository
	notifier *recordingNotifier
}

func testConfig() config.Config {
	return config.Config{
		OverlapScope:       config.OverlapScopeGlobal,
		NotifyTimeout:      time.Second,
		PractitionerName:   "Shourya Hegde",
		ContactCountryCode: "91",
	}
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) fixture {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	repo := appointment.NewMemoryRepository()
	notifier := &recordingNotifier{}
	svc := appointment.NewService(repo, repo, redisclient.NewLocalLocker(), notifier, cfg, zap.NewNop(),
		appointment.WithClock(func() time.Time { return today }))
	return fixture{svc: svc, repo: repo, notifier: notifier}
}

func booking(patient, clinic, date, start, end string) appointment.CreateRequest {
	return appointment.CreateRequest{
		PatientID:     patient,
		PatientName:   "Patient " + patient,
		Date:          date,
		StartTime:     start,
		EndTime:       end,
		TreatmentType: "Cleaning",
		ClinicName:    clinic,
	}
}

func requireConflict(t *testing.T, err error, sentinel error) {
	t.Helper()
	require.Error(t, err)
	var conflict *appointment.ConflictError
	require.True(t, errors.As(err, &conflict), "error type = %T, want *ConflictError", err)
	assert.ErrorIs(t, err, sentinel)
}

func TestCreateAppointment_EndToEndScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateAppointment(ctx, booking("P1", "C1", "2024-06-01", "09:00", "09:30"))
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusScheduled, a.Status)
	assert.Equal(t, "2024-06-01T09:00:00.000", appointment.FormatTimestamp(a.StartTime))
	assert.Equal(t, "2024-06-01T09:30:00.000", appointment.FormatTimestamp(a.EndTime))
	assert.Equal(t, "2024-06-01", appointment.FormatDate(a.Date))

	_, err = f.svc.CreateAppointment(ctx, booking("P2", "C1", "2024-06-01", "09:15", "09:45"))
	requireConflict(t, err, appointment.ErrOverlap)

	_, err = f.svc.CreateAppointment(ctx, booking("P1", "C1", "2024-06-01", "09:30", "10:00"))
	requireConflict(t, err, appointment.ErrDuplicateSameDay)
	assert.Equal(t, "patient already booked that day", err.Error())

	all, err := f.repo.Find(ctx, appointment.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreateAppointment_TouchingIntervalsAdmitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateAppointment(ctx, booking("P1", "C1", "2024-06-01", "09:00", "09:30"))
	require.NoError(t, err)
	_, err = f.svc.CreateAppointment(ctx, booking("P2", "C1", "2024-06-01", "09:30", "10:00"))
	require.NoError(t, err)
	_, err = f.svc.CreateAppointment(ctx, booking("P3", "C1", "2024-06-01", "08:30", "09:00"))
	require.NoError(t, err)
}

func TestCreateAppointment_OverlapCases(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
	}{
		{"contained", "09:10", "09:20"},
		{"containing", "08:00", "11:00"},
		{"identical", "09:00", "09:30"},
		{"overlaps start", "08:45", "09:01"},
		{"overlaps end", "09:29", "10:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			_, err := f.svc.CreateAppointment(ctx, booking("P1", "C1", "2024-06-01", "09:00", "09:30"))
			require.NoError(t, err)

			_, err = f.svc.CreateAppointment(ctx, booking("P2", "C1", "2024-06-01", tt.start, tt.end))
			requireConflict(t, err, appointment.ErrOverlap)
		})
	}
}

func TestCreateAppointment_OverlapScope(t *testing.T) {
	t.Run("global scope rejects overlap in another clinic", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		_, err := f.svc.CreateAppointment(ctx, booking("P1", "C1", "2024-06-01", "09:00", "09:30"))
		require.NoError(t, err)

		_, err = f.svc.CreateAppointment(ctx, booking("P2", "C2", "2024-06-01", "09:00", "09:30"))
		requireConflict(t, err, appointment.ErrOverlap)
	})

	t.Run("clinic scope admits overlap in another clinic", func(t *testing.T) {
		f := newFixture(t, func(c *config.Config) { c.OverlapScope = config.OverlapScopeClinic })
		ctx := context.Background()
		_, err := f.svc.CreateAppointment(ctx, booking("P1", "C1", "2024-06-01", "09:00", "09:30"))
		require.NoError(t, err)

		_, err = f.svc.CreateAppointment(ctx, booking("P2", "C2", "2024-06-01", "09:00", "09:30"))
		require.NoError(t, err)

		_, err = f.svc.CreateAppointment(ctx, booking("P3", "C1", "2024-06-01", "09:15", "09:45"))
		requireConflict(t, err, appointment.ErrOverlap)
	})
}

func TestCreateAppointment_DuplicateSameDaySpansClinics(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.OverlapScope = config.OverlapScopeClinic })
	ctx := context.Background()

	_, err := f.svc.CreateAppointment(ctx, booking("P1", "C1", "2024-06-01", "09:00", "09:30"))
	require.NoError(t, err)

	_, err = f.svc.CreateAppointment(ctx, booking("P1", "C2", "2024-06-01", "15:00", "15:30"))
	requireConflict(t, err, appointment.ErrDuplicateSameDay)

	_, err = f.svc.CreateAppointment(ctx, booking("P1", "C2", "2024-06-02", "15:00", "15:30"))
	require.NoError(t, err)
}

func TestCreateAppointment_OverlapScanStatusFilter(t *testing.T) {
	setup := func(t *testing.T, f fixture) {
		a, err := f.svc.CreateAppointment(context.Background(), booking("P1", "C1", "2024-06-01", "09:00", "09:30"))
		require.NoError(t, err)
		_, err = f.svc.TransitionStatus(context.Background(), a.ID, appointment.StatusCompleted)
		require.NoError(t, err)
	}

	t.Run("completed appointment still blocks by default", func(t *testing.T) {
		f := newFixture(t)
		setup(t, f)
		_, err := f.svc.CreateAppointment(context.Background(), booking("P2", "C1", "2024-06-01", "09:00", "09:30"))
		requireConflict(t, err, appointment.ErrOverlap)
	})

	t.Run("scheduled only scan ignores completed appointment", func(t *testing.T) {
		f := newFixture(t, func(c *config.Config) { c.OverlapScheduledOnly = true })
		setup(t, f)
		_, err := f.svc.CreateAppointment(context.Background(), booking("P2", "C1", "2024-06-01", "09:00", "09:30"))
		require.NoError(t, err)
	})
}

func TestCreateAppointment_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   appointment.CreateRequest
		field string
	}{
		{"missing patient", booking("", "C1", "2024-06-01", "09:00", "09:30"), "patientId"},
		{"missing clinic", booking("P1", "", "2024-06-01", "09:00", "09:30"), "clinicName"},
		{"bad date", booking("P1", "C1", "2024-02-30", "09:00", "09:30"), "date"},
		{"date not iso", booking("P1", "C1", "01/06/2024", "09:00", "09:30"), "date"},
		{"unpadded start", booking("P1", "C1", "2024-06-01", "9:00", "09:30"), "startTime"},
		{"bad end", booking("P1", "C1", "2024-06-01", "09:00", "25:00"), "endTime"},
		{"end before start", booking("P1", "C1", "2024-06-01", "10:00", "09:30"), "endTime"},
		{"empty interval", booking("P1", "C1", "2024-06-01", "10:00", "10:00"), "endTime"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.CreateAppointment(context.Background(), tt.req)

			var vErr *appointment.ValidationError
			require.True(t, errors.As(err, &vErr), "error type = %T, want *ValidationError", err)
			assert.Equal(t, tt.field, vErr.Field)

			all, _ := f.repo.Find(context.Background(), appointment.Filter{})
			assert.Empty(t, all)
		})
	}
}

func TestCreateAppointment_SendsConfirmationAndAudit(t *testing.T) {
	f := newFixture(t)
	f.repo.SetContact("P1", "9812345678")

	a, err := f.svc.CreateAppointment(context.Background(), booking("P1", "C1", "2024-06-01", "09:00", "09:30"))
	require.NoError(t, err)

	reqs := f.notifier.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, appointment.NotificationRequest{
		RecipientContact: "919812345678",
		PatientName:      "Patient P1",
		AppointmentAt:    "2024-06-01 09:00",
		PractitionerName: "Shourya Hegde",
	}, reqs[0])

	var types []string
	for _, ev := range f.repo.Events() {
		require.NotNil(t, ev.AppointmentID)
		assert.Equal(t, a.ID, *ev.AppointmentID)
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []string{appointment.EventAppointmentCreated, appointment.EventBookingConfirmationQueue}, types)
}

func TestCreateAppointment_AuditRecordedWithoutContact(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateAppointment(context.Background(), booking("P1", "C1", "2024-06-01", "09:00", "09:30"))
	require.NoError(t, err)

	assert.Empty(t, f.notifier.Requests())
	events := f.repo.Events()
	require.Len(t, events, 2)
	assert.Equal(t, appointment.EventBookingConfirmationQueue, events[1].EventType)
	assert.JSONEq(t,
		`{"patient_id":"P1","patient_name":"Patient P1","clinic":"C1","appointment_at":"2024-06-01T09:00:00.000"}`,
		string(events[1].Payload))
}

type failingSender struct{}

func (failingSender) SendBookingConfirmation(ctx context.Context, practitionerName, patientName, contact, whenText string) error {
	return errors.New("whatsapp gateway unavailable")
}

type hangingSender struct{}

func (hangingSender) SendBookingConfirmation(ctx context.Context, practitionerName, patientName, contact, whenText string) error {
	select {}
}

func TestCreateAppointment_NotificationIsolation(t *testing.T) {
	senders := map[string]notification.Sender{
		"failing": failingSender{},
		"hanging": hangingSender{},
	}
	for name, sender := range senders {
		t.Run(name, func(t *testing.T) {
			repo := appointment.NewMemoryRepository()
			repo.SetContact("P1", "9812345678")
			dispatcher := notification.NewDispatcher(sender, 20*time.Millisecond, 4, 1, zap.NewNop(), nil)
			svc := appointment.NewService(repo, repo, redisclient.NewLocalLocker(), dispatcher, testConfig(), zap.NewNop())

			start := time.Now()
			a, err := svc.CreateAppointment(context.Background(), booking("P1", "C1", "2024-06-01", "09:00", "09:30"))
			require.NoError(t, err)
			assert.Less(t, time.Since(start), 500*time.Millisecond)

			stored, err := repo.GetByID(context.Background(), a.ID)
			require.NoError(t, err)
			assert.Equal(t, appointment.StatusScheduled, stored.Status)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			require.NoError(t, dispatcher.Shutdown(ctx))
		})
	}

	t.Run("contact lookup failure", func(t *testing.T) {
		repo := appointment.NewMemoryRepository()
		notifier := &recordingNotifier{}
		svc := appointment.NewService(repo, failingDirectory{}, redisclient.NewLocalLocker(), notifier, testConfig(), zap.NewNop())

		a, err := svc.CreateAppointment(context.Background(), booking("P1", "C1", "2024-06-01", "09:00", "09:30"))
		require.NoError(t, err)
		assert.Empty(t, notifier.Requests())

		_, err = repo.GetByID(context.Background(), a.ID)
		require.NoError(t, err)
	})
}

func TestCreateAppointment_LockWaitExpired(t *testing.T) {
	repo := appointment.NewMemoryRepository()
	svc := appointment.NewService(repo, repo, busyLocker{}, &recordingNotifier{}, testConfig(), zap.NewNop())

	_, err := svc.CreateAppointment(context.Background(), booking("P1", "C1", "2024-06-01", "09:00", "09:30"))
	require.ErrorIs(t, err, appointment.ErrDayBeingBooked)
	assert.ErrorIs(t, err, redisclient.ErrLockNotAcquired)
	var conflict *appointment.ConflictError
	assert.False(t, errors.As(err, &conflict), "lock timeout must not read as an admission conflict")

	all, _ := repo.Find(context.Background(), appointment.Filter{})
	assert.Empty(t, all)
}

func TestCreateAppointment_ConcurrentOverlappingBookings(t *testing.T) {
	f := newFixture(t)

	const n = 25
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateAppointment(context.Background(),
				booking(fmt.Sprintf("P%d", i), "C1", "2024-06-01", "09:00", "09:30"))
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, err := range errs {
		if err == nil {
			admitted++
			continue
		}
		requireConflict(t, err, appointment.ErrOverlap)
	}
	assert.Equal(t, 1, admitted)
}

// slowRepository delays reads so concurrent bookings contend for the day lock.
type slowRepository struct {
	*appointment.MemoryRepository
	delay time.Duration
}

func (r slowRepository) Find(ctx context.Context, f appointment.Filter) ([]appointment.Appointment, error) {
	time.Sleep(r.delay)
	return r.MemoryRepository.Find(ctx, f)
}

func TestCreateAppointment_ConcurrentDisjointBookingsWithRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	mem := appointment.NewMemoryRepository()
	repo := slowRepository{MemoryRepository: mem, delay: 20 * time.Millisecond}
	svc := appointment.NewService(repo, mem, redisclient.NewRedisDayLocker(rdb, 5*time.Second),
		&recordingNotifier{}, testConfig(), zap.NewNop())

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := fmt.Sprintf("%02d:00", 9+i)
			end := fmt.Sprintf("%02d:30", 9+i)
			_, errs[i] = svc.CreateAppointment(context.Background(),
				booking(fmt.Sprintf("P%d", i), fmt.Sprintf("C%d", i), "2024-06-01", start, end))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "booking %d", i)
	}
	all, err := mem.Find(context.Background(), appointment.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, n)
}

func TestCreateAppointment_ConcurrentSamePatientAcrossClinics(t *testing.T) {
	// Clinic-scoped locks do not serialize different clinics; the store's
	// patient/day guard must still admit only one booking.
	f := newFixture(t, func(c *config.Config) { c.OverlapScope = config.OverlapScopeClinic })

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateAppointment(context.Background(),
				booking("P1", fmt.Sprintf("C%d", i), "2024-06-01", "09:00", "09:30"))
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, err := range errs {
		if err == nil {
			admitted++
			continue
		}
		requireConflict(t, err, appointment.ErrDuplicateSameDay)
	}
	assert.Equal(t, 1, admitted)
}

func TestCancelAppointment_RemovesRecordAndFreesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateAppointment(ctx, booking("P1", "C1", "2024-06-01", "09:00", "09:30"))
	require.NoError(t, err)

	deleted, err := f.svc.CancelAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, deleted.ID)

	_, err = f.svc.GetAppointment(ctx, a.ID)
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)

	_, err = f.svc.CreateAppointment(ctx, booking("P2", "C1", "2024-06-01", "09:00", "09:30"))
	require.NoError(t, err)

	_, err = f.svc.CancelAppointment(ctx, a.ID)
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)
}

func TestUpdateAppointment_NotFound(t *testing.T) {
	f := newFixture(t)
	name := "x"
	_, err := f.svc.UpdateAppointment(context.Background(), uuid.New(), appointment.Patch{PatientName: &name})
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)
}

func TestUpdateAppointment_PatchesFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateAppointment(ctx, booking("P1", "C1", "2024-06-01", "09:00", "09:30"))
	require.NoError(t, err)

	treatment := "Root canal"
	start, end := "11:00", "12:15"
	updated, err := f.svc.UpdateAppointment(ctx, a.ID, appointment.Patch{
		TreatmentType: &treatment,
		StartTime:     &start,
		EndTime:       &end,
	})
	require.NoError(t, err)
	assert.Equal(t, "Root canal", updated.TreatmentType)
	assert.Equal(t, "2024-06-01T11:00:00.000", appointment.FormatTimestamp(updated.StartTime))
	assert.Equal(t, "2024-06-01T12:15:00.000", appointment.FormatTimestamp(updated.EndTime))

	date := "2024-06-03"
	moved, err := f.svc.UpdateAppointment(ctx, a.ID, appointment.Patch{Date: &date})
	require.NoError(t, err)
	assert.Equal(t, "2024-06-03", appointment.FormatDate(moved.Date))
	assert.Equal(t, "2024-06-03T11:00:00.000", appointment.FormatTimestamp(moved.StartTime))

	bad := "10:00"
	_, err = f.svc.UpdateAppointment(ctx, a.ID, appointment.Patch{EndTime: &bad})
	var vErr *appointment.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "endTime", vErr.Field)
}

func TestUpdateAppointment_PatientFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateAppointment(ctx, booking("P1", "C1", "2024-06-01", "09:00", "09:30"))
	require.NoError(t, err)
	_, err = f.svc.CreateAppointment(ctx, booking("P2", "C2", "2024-06-01", "11:00", "11:30"))
	require.NoError(t, err)

	newPatient, blank := "P9", ""
	_, err = f.svc.UpdateAppointment(ctx, a.ID, appointment.Patch{PatientID: &newPatient, PatientName: &blank})
	var vErr *appointment.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "patientName", vErr.Field)

	_, err = f.svc.UpdateAppointment(ctx, a.ID, appointment.Patch{TreatmentType: &blank})
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "treatmentType", vErr.Field)

	unchanged, err := f.svc.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "P1", unchanged.PatientID)
	assert.Equal(t, "Patient P1", unchanged.PatientName)

	moved, err := f.svc.UpdateAppointment(ctx, a.ID, appointment.Patch{PatientID: &newPatient})
	require.NoError(t, err)
	assert.Equal(t, "P9", moved.PatientID)

	taken := "P2"
	_, err = f.svc.UpdateAppointment(ctx, a.ID, appointment.Patch{PatientID: &taken})
	requireConflict(t, err, appointment.ErrDuplicateSameDay)
}

func TestUpdateAppointment_DoesNotRerunOverlapCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateAppointment(ctx, booking("P1", "C1", "2024-06-01", "09:00", "09:30"))
	require.NoError(t, err)
	b, err := f.svc.CreateAppointment(ctx, booking("P2", "C1", "2024-06-01", "10:00", "10:30"))
	require.NoError(t, err)

	start, end := "09:00", "09:30"
	_, err = f.svc.UpdateAppointment(ctx, b.ID, appointment.Patch{StartTime: &start, EndTime: &end})
	require.NoError(t, err)
}

func TestStatusTransitions(t *testing.T) {
	status := func(s appointment.AppointmentStatus) *appointment.AppointmentStatus { return &s }

	tests := []struct {
		name    string
		path    []appointment.AppointmentStatus
		wantErr error
	}{
		{"scheduled to completed", []appointment.AppointmentStatus{appointment.StatusCompleted}, nil},
		{"scheduled to cancelled", []appointment.AppointmentStatus{appointment.StatusCancelled}, nil},
		{"same state is a no-op", []appointment.AppointmentStatus{appointment.StatusScheduled}, nil},
		{"completed back to scheduled", []appointment.AppointmentStatus{appointment.StatusCompleted, appointment.StatusScheduled}, appointment.ErrInvalidStatusTransition},
		{"cancelled back to scheduled", []appointment.AppointmentStatus{appointment.StatusCancelled, appointment.StatusScheduled}, appointment.ErrInvalidStatusTransition},
		{"cancelled to completed", []appointment.AppointmentStatus{appointment.StatusCancelled, appointment.StatusCompleted}, appointment.ErrInvalidStatusTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			a, err := f.svc.CreateAppointment(ctx, booking("P1", "C1", "2024-06-01", "09:00", "09:30"))
			require.NoError(t, err)

			for i, to := range tt.path {
				_, err = f.svc.UpdateAppointment(ctx, a.ID, appointment.Patch{Status: status(to)})
				if i < len(tt.path)-1 {
					require.NoError(t, err)
				}
			}
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			got, err := f.svc.GetAppointment(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.path[len(tt.path)-1], got.Status)
		})
	}

	t.Run("unknown status", func(t *testing.T) {
		f := newFixture(t)
		a, err := f.svc.CreateAppointment(context.Background(), booking("P1", "C1", "2024-06-01", "09:00", "09:30"))
		require.NoError(t, err)

		_, err = f.svc.TransitionStatus(context.Background(), a.ID, "no-show")
		var vErr *appointment.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "status", vErr.Field)
	})
}

func TestCanTransition(t *testing.T) {
	assert.True(t, appointment.CanTransition(appointment.StatusScheduled, appointment.StatusCompleted))
	assert.True(t, appointment.CanTransition(appointment.StatusScheduled, appointment.StatusCancelled))
	assert.True(t, appointment.CanTransition(appointment.StatusCompleted, appointment.StatusCompleted))
	assert.False(t, appointment.CanTransition(appointment.StatusCompleted, appointment.StatusScheduled))
	assert.False(t, appointment.CanTransition(appointment.StatusCancelled, appointment.StatusScheduled))
	assert.False(t, appointment.CanTransition(appointment.StatusCompleted, appointment.StatusCancelled))
}

func TestTodaysStatusSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		a, err := f.svc.CreateAppointment(ctx, booking(fmt.Sprintf("P%d", i), "X",
			"2024-06-01", fmt.Sprintf("%02d:00", 9+i), fmt.Sprintf("%02d:30", 9+i)))
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}
	for _, id := range ids[:2] {
		_, err := f.svc.TransitionStatus(ctx, id, appointment.StatusCompleted)
		require.NoError(t, err)
	}

	// noise: another clinic, another day, a cancelled-by-status record
	_, err := f.svc.CreateAppointment(ctx, booking("Q1", "Y", "2024-06-01", "16:00", "16:30"))
	require.NoError(t, err)
	_, err = f.svc.CreateAppointment(ctx, booking("Q2", "X", "2024-06-02", "09:00", "09:30"))
	require.NoError(t, err)
	c, err := f.svc.CreateAppointment(ctx, booking("Q3", "X", "2024-06-01", "17:00", "17:30"))
	require.NoError(t, err)
	_, err = f.svc.TransitionStatus(ctx, c.ID, appointment.StatusCancelled)
	require.NoError(t, err)

	sum, err := f.svc.TodaysStatusSummary(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, "2/5", sum.String())

	_, err = f.svc.TodaysStatusSummary(ctx, "")
	var vErr *appointment.ValidationError
	assert.True(t, errors.As(err, &vErr))
}

func TestTodaysAppointments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateAppointment(ctx, booking("P1", "C1", "2024-06-01", "09:00", "09:30"))
	require.NoError(t, err)
	_, err = f.svc.CreateAppointment(ctx, booking("P2", "C2", "2024-06-01", "10:00", "10:30"))
	require.NoError(t, err)
	_, err = f.svc.CreateAppointment(ctx, booking("P3", "C1", "2024-06-02", "09:00", "09:30"))
	require.NoError(t, err)
	_, err = f.svc.CreateAppointment(ctx, booking("P4", "C1", "2024-05-31", "09:00", "09:30"))
	require.NoError(t, err)

	all, err := f.svc.TodaysAppointments(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	c1, err := f.svc.TodaysAppointments(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, c1, 1)
	assert.Equal(t, "P1", c1[0].PatientID)
}

func TestUpcomingScheduled_OrderedByDateThenStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateAppointment(ctx, booking("P3", "C1", "2024-06-02", "08:00", "08:30"))
	require.NoError(t, err)
	_, err = f.svc.CreateAppointment(ctx, booking("P2", "C1", "2024-06-01", "14:00", "14:30"))
	require.NoError(t, err)
	_, err = f.svc.CreateAppointment(ctx, booking("P1", "C1", "2024-06-01", "09:00", "09:30"))
	require.NoError(t, err)

	// excluded: past date and non-scheduled
	_, err = f.svc.CreateAppointment(ctx, booking("P4", "C1", "2024-05-31", "09:00", "09:30"))
	require.NoError(t, err)
	done, err := f.svc.CreateAppointment(ctx, booking("P5", "C1", "2024-06-01", "16:00", "16:30"))
	require.NoError(t, err)
	_, err = f.svc.TransitionStatus(ctx, done.ID, appointment.StatusCompleted)
	require.NoError(t, err)

	got, err := f.svc.UpcomingScheduled(ctx, "")
	require.NoError(t, err)

	var order []string
	for _, a := range got {
		order = append(order, appointment.FormatTimestamp(a.StartTime))
	}
	assert.Equal(t, []string{
		"2024-06-01T09:00:00.000",
		"2024-06-01T14:00:00.000",
		"2024-06-02T08:00:00.000",
	}, order)

	other, err := f.svc.UpcomingScheduled(ctx, "C9")
	require.NoError(t, err)
	assert.Empty(t, other)
}
