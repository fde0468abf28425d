package appointment

import (
	"context"
	"errors"
	"fmt"
)

// ConflictResult holds the outcome of both admission rules.
type ConflictResult struct {
	Overlap          bool
	DuplicateSameDay bool
}

// ConflictChecker evaluates a candidate against appointments already stored
// for the same date.
//
// The overlap scan covers every clinic unless perClinic is set, and every
// status unless scheduledOnly is set. The same-day duplicate rule always
// spans all clinics and only counts scheduled appointments.
type ConflictChecker struct {
	repo          Repository
	perClinic     bool
	scheduledOnly bool
}

func NewConflictChecker(repo Repository, perClinic, scheduledOnly bool) *ConflictChecker {
	return &ConflictChecker{
		repo:          repo,
		perClinic:     perClinic,
		scheduledOnly: scheduledOnly,
	}
}

func (c *ConflictChecker) Check(ctx context.Context, candidate Appointment) (ConflictResult, error) {
	var res ConflictResult

	date := candidate.Date
	scan := Filter{Date: &date}
	if c.perClinic {
		scan.ClinicName = candidate.ClinicName
	}
	if c.scheduledOnly {
		scan.Status = StatusScheduled
	}

	sameDay, err := c.repo.Find(ctx, scan)
	if err != nil {
		return res, fmt.Errorf("load appointments for overlap scan: %w", err)
	}
	for _, existing := range sameDay {
		if existing.ID == candidate.ID {
			continue
		}
		if existing.Overlaps(candidate.StartTime, candidate.EndTime) {
			res.Overlap = true
			break
		}
	}

	_, err = c.repo.FindOne(ctx, Filter{
		Date:      &date,
		PatientID: candidate.PatientID,
		Status:    StatusScheduled,
	})
	switch {
	case err == nil:
		res.DuplicateSameDay = true
	case errors.Is(err, ErrAppointmentNotFound):
	default:
		return res, fmt.Errorf("check same-day booking: %w", err)
	}

	return res, nil
}
