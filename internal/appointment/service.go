package appointment

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/dental-appointment-scheduling/internal/config"
	"github.com/hackgods/dental-appointment-scheduling/internal/metrics"
	redisclient "github.com/hackgods/dental-appointment-scheduling/internal/redis"
)

const (
	EventAppointmentCreated       = "APPOINTMENT_CREATED"
	EventAppointmentUpdated       = "APPOINTMENT_UPDATED"
	EventAppointmentCancelled     = "APPOINTMENT_CANCELLED"
	EventBookingConfirmationQueue = "BOOKING_CONFIRMATION_QUEUED"
)

const (
	outcomeAdmitted  = "admitted"
	outcomeOverlap   = "overlap"
	outcomeDuplicate = "duplicate_same_day"
	outcomeBusy      = "lock_busy"
	outcomeInvalid   = "invalid"
	outcomeError     = "error"
)

type Service struct {
	repo     Repository
	patients PatientDirectory
	locker   redisclient.Locker
	notifier Notifier
	checker  *ConflictChecker
	validate *validator.Validate
	cfg      config.Config
	log      *zap.Logger
	metrics  *metrics.Collector
	now      func() time.Time
}

type Option func(*Service)

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock replaces time.Now for "today" queries.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	repo Repository,
	patients PatientDirectory,
	locker redisclient.Locker,
	notifier Notifier,
	cfg config.Config,
	log *zap.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		repo:     repo,
		patients: patients,
		locker:   locker,
		notifier: notifier,
		checker:  NewConflictChecker(repo, cfg.OverlapPerClinic(), cfg.OverlapScheduledOnly),
		validate: newValidator(),
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// CreateAppointment admits a booking if it neither overlaps another
// appointment that day nor duplicates the patient's scheduled booking.
// The check and insert run under a per-day lock so concurrent requests for
// the same day cannot both pass a stale check.
func (s *Service) CreateAppointment(ctx context.Context, req CreateRequest) (*Appointment, error) {
	if err := s.validate.Struct(req); err != nil {
		s.metrics.Booking(outcomeInvalid)
		return nil, fromValidator(err)
	}

	date, startAt, endAt, err := resolveSchedule(req.Date, req.StartTime, req.EndTime)
	if err != nil {
		s.metrics.Booking(outcomeInvalid)
		return nil, err
	}

	candidate := Appointment{
		ID:            uuid.New(),
		PatientID:     req.PatientID,
		PatientName:   req.PatientName,
		ClinicName:    req.ClinicName,
		Date:          date,
		StartTime:     startAt,
		EndTime:       endAt,
		Status:        StatusScheduled,
		TreatmentType: req.TreatmentType,
	}

	var created *Appointment
	err = s.withDayLock(ctx, candidate, func(lockCtx context.Context) error {
		res, err := s.checker.Check(lockCtx, candidate)
		if err != nil {
			return err
		}
		if res.Overlap {
			return newConflict(ErrOverlap, "overlapping appointment")
		}
		if res.DuplicateSameDay {
			return newConflict(ErrDuplicateSameDay, "patient already booked that day")
		}

		appt, err := s.repo.Insert(lockCtx, candidate)
		if err != nil {
			if errors.Is(err, ErrDuplicateSameDay) {
				return newConflict(ErrDuplicateSameDay, "patient already booked that day")
			}
			return fmt.Errorf("insert appointment: %w", err)
		}
		created = appt
		return nil
	})
	if err != nil {
		var conflict *ConflictError
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			s.metrics.Booking(outcomeBusy)
			return nil, fmt.Errorf("%w: %w", ErrDayBeingBooked, err)
		case errors.As(err, &conflict):
			if errors.Is(conflict, ErrOverlap) {
				s.metrics.Booking(outcomeOverlap)
			} else {
				s.metrics.Booking(outcomeDuplicate)
			}
			return nil, conflict
		default:
			s.metrics.Booking(outcomeError)
			return nil, err
		}
	}

	s.metrics.Booking(outcomeAdmitted)
	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"patient_id": created.PatientID,
		"clinic":     created.ClinicName,
		"start_time": FormatTimestamp(created.StartTime),
		"end_time":   FormatTimestamp(created.EndTime),
	})

	s.sendConfirmation(ctx, created, req.StartTime)

	return created, nil
}

func (s *Service) withDayLock(ctx context.Context, a Appointment, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	clinic := ""
	if s.cfg.OverlapPerClinic() {
		clinic = a.ClinicName
	}
	return s.locker.WithLock(ctx, redisclient.BookingLockKey(clinic, FormatDate(a.Date)), fn)
}

// sendConfirmation hands a confirmation to the notifier and records the audit
// entry. Nothing here can fail the booking.
func (s *Service) sendConfirmation(ctx context.Context, appt *Appointment, clock string) {
	// the booking is committed; its confirmation outlives the request
	ctx = context.WithoutCancel(ctx)
	lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.NotifyTimeout)
	defer cancel()

	log := s.log.With(
		zap.String("appointment_id", appt.ID.String()),
		zap.String("patient_id", appt.PatientID),
	)

	contact, ok, err := s.patients.LookupContact(lookupCtx, appt.PatientID)
	switch {
	case err != nil:
		log.Warn("contact lookup failed, skipping booking confirmation", zap.Error(err))
	case !ok:
		log.Info("no contact on file, skipping booking confirmation")
	case s.notifier != nil:
		s.notifier.Notify(ctx, NotificationRequest{
			RecipientContact: s.cfg.ContactCountryCode + contact,
			PatientName:      appt.PatientName,
			AppointmentAt:    fmt.Sprintf("%s %s", FormatDate(appt.Date), clock),
			PractitionerName: s.cfg.PractitionerName,
		})
	}

	s.logEvent(ctx, appt.ID, EventBookingConfirmationQueue, map[string]any{
		"patient_id":     appt.PatientID,
		"patient_name":   appt.PatientName,
		"clinic":         appt.ClinicName,
		"appointment_at": FormatTimestamp(appt.StartTime),
	})
}

// CanTransition reports whether status may move from one value to another.
// Only scheduled appointments move; staying in place is allowed.
func CanTransition(from, to AppointmentStatus) bool {
	if from == to {
		return true
	}
	return from == StatusScheduled && (to == StatusCompleted || to == StatusCancelled)
}

// UpdateAppointment applies a patch. Schedule fields are recombined and
// validated; a status change must be a legal transition. Admission rules are
// not re-run.
func (s *Service) UpdateAppointment(ctx context.Context, id uuid.UUID, patch Patch) (*Appointment, error) {
	if err := s.validate.Struct(patch); err != nil {
		return nil, fromValidator(err)
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, &ValidationError{Field: "status", Message: "must be one of scheduled, completed, cancelled"}
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	changes := Changes{
		PatientID:     patch.PatientID,
		PatientName:   patch.PatientName,
		ClinicName:    patch.ClinicName,
		TreatmentType: patch.TreatmentType,
	}

	if patch.changesSchedule() {
		date := FormatDate(current.Date)
		if patch.Date != nil {
			date = *patch.Date
		}
		start := current.StartTime.Format(clockLayout)
		if patch.StartTime != nil {
			start = *patch.StartTime
		}
		end := current.EndTime.Format(clockLayout)
		if patch.EndTime != nil {
			end = *patch.EndTime
		}
		day, startAt, endAt, err := resolveSchedule(date, start, end)
		if err != nil {
			return nil, err
		}
		changes.Date, changes.StartTime, changes.EndTime = &day, &startAt, &endAt
	}

	if patch.Status != nil && *patch.Status != current.Status {
		if !CanTransition(current.Status, *patch.Status) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, current.Status, *patch.Status)
		}
		from := current.Status
		changes.Status = patch.Status
		changes.ExpectStatus = &from
	}

	updated, err := s.repo.UpdateByID(ctx, id, changes)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			if changes.ExpectStatus != nil {
				// lost a race with another status change or a delete
				if _, getErr := s.repo.GetByID(ctx, id); getErr == nil {
					return nil, fmt.Errorf("%w: status changed concurrently", ErrInvalidStatusTransition)
				}
			}
			return nil, err
		}
		if errors.Is(err, ErrDuplicateSameDay) {
			return nil, newConflict(ErrDuplicateSameDay, "patient already booked that day")
		}
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	payload := map[string]any{"status": updated.Status}
	if changes.Status != nil {
		payload["from_status"] = current.Status
	}
	s.logEvent(ctx, updated.ID, EventAppointmentUpdated, payload)

	return updated, nil
}

// TransitionStatus moves an appointment to a new status.
func (s *Service) TransitionStatus(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	return s.UpdateAppointment(ctx, id, Patch{Status: &to})
}

// CancelAppointment removes the appointment record, freeing its slot.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	deleted, err := s.repo.DeleteByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("delete appointment: %w", err)
	}

	s.logEvent(ctx, deleted.ID, EventAppointmentCancelled, map[string]any{
		"patient_id": deleted.PatientID,
		"clinic":     deleted.ClinicName,
		"start_time": FormatTimestamp(deleted.StartTime),
	})

	return deleted, nil
}

// GetAppointment retrieves a single appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// TodaysAppointments lists every appointment dated today, optionally for one clinic.
func (s *Service) TodaysAppointments(ctx context.Context, clinic string) ([]Appointment, error) {
	from, to := todayBounds(s.now())
	appts, err := s.repo.Find(ctx, Filter{DateFrom: &from, DateTo: &to, ClinicName: clinic})
	if err != nil {
		return nil, fmt.Errorf("list today's appointments: %w", err)
	}
	return appts, nil
}

// TodaysStatusSummary counts today's completed appointments for a clinic
// against completed plus scheduled.
func (s *Service) TodaysStatusSummary(ctx context.Context, clinic string) (StatusSummary, error) {
	if clinic == "" {
		return StatusSummary{}, &ValidationError{Field: "clinic", Message: "is required"}
	}
	from, to := todayBounds(s.now())
	appts, err := s.repo.Find(ctx, Filter{DateFrom: &from, DateTo: &to, ClinicName: clinic})
	if err != nil {
		return StatusSummary{}, fmt.Errorf("load today's appointments: %w", err)
	}

	var sum StatusSummary
	for _, a := range appts {
		switch a.Status {
		case StatusCompleted:
			sum.Completed++
			sum.Total++
		case StatusScheduled:
			sum.Total++
		}
	}
	return sum, nil
}

func (s StatusSummary) String() string {
	return fmt.Sprintf("%d/%d", s.Completed, s.Total)
}

// UpcomingScheduled lists scheduled appointments from today on, ordered by
// date then start time.
func (s *Service) UpcomingScheduled(ctx context.Context, clinic string) ([]Appointment, error) {
	from, _ := todayBounds(s.now())
	appts, err := s.repo.Find(ctx, Filter{
		DateFrom:       &from,
		ClinicName:     clinic,
		Status:         StatusScheduled,
		SortBySchedule: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list upcoming appointments: %w", err)
	}
	SortBySchedule(appts)
	return appts, nil
}

// SortBySchedule orders appointments by (Date, StartTime) ascending.
func SortBySchedule(appts []Appointment) {
	sort.SliceStable(appts, func(i, j int) bool {
		if !appts[i].Date.Equal(appts[j].Date) {
			return appts[i].Date.Before(appts[j].Date)
		}
		return appts[i].StartTime.Before(appts[j].StartTime)
	})
}

// Ping reports whether the backing store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error("failed to insert event log",
			zap.String("event", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err),
		)
	}
}
