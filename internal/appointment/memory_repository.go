package appointment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps appointments in process memory. It enforces the
// same scheduled (patient, date) uniqueness as the database stores.
type MemoryRepository struct {
	mu           sync.RWMutex
	appointments map[uuid.UUID]Appointment
	events       []EventLog
	contacts     map[string]string
	nextEventID  int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		appointments: make(map[uuid.UUID]Appointment),
		contacts:     make(map[string]string),
	}
}

// SetContact registers a patient mobile number for LookupContact.
func (r *MemoryRepository) SetContact(patientID, mobile string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contacts[patientID] = mobile
}

func (r *MemoryRepository) LookupContact(ctx context.Context, patientID string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mobile, ok := r.contacts[patientID]
	if !ok || mobile == "" {
		return "", false, nil
	}
	return mobile, true, nil
}

func (r *MemoryRepository) Find(ctx context.Context, f Filter) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.appointments {
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	if f.SortBySchedule {
		SortBySchedule(out)
	}
	return out, nil
}

func (r *MemoryRepository) FindOne(ctx context.Context, f Filter) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.appointments {
		if f.Matches(a) {
			found := a
			return &found, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) Insert(ctx context.Context, a Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == StatusScheduled && r.scheduledSameDayLocked(a.PatientID, a.Date, a.ID) {
		return nil, ErrDuplicateSameDay
	}

	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	r.appointments[a.ID] = a
	return &a, nil
}

func (r *MemoryRepository) UpdateByID(ctx context.Context, id uuid.UUID, c Changes) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if c.ExpectStatus != nil && a.Status != *c.ExpectStatus {
		return nil, ErrAppointmentNotFound
	}

	c.Apply(&a)
	if a.Status == StatusScheduled && r.scheduledSameDayLocked(a.PatientID, a.Date, a.ID) {
		return nil, ErrDuplicateSameDay
	}
	a.UpdatedAt = time.Now().UTC()
	r.appointments[id] = a
	return &a, nil
}

func (r *MemoryRepository) DeleteByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	delete(r.appointments, id)
	return &a, nil
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextEventID++
	ev.ID = r.nextEventID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

func (r *MemoryRepository) scheduledSameDayLocked(patientID string, date time.Time, except uuid.UUID) bool {
	for id, other := range r.appointments {
		if id == except {
			continue
		}
		if other.PatientID == patientID && other.Date.Equal(date) && other.Status == StatusScheduled {
			return true
		}
	}
	return false
}
