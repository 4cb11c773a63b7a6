// Package apptest provides an in-memory appointment.Repository for tests.
package apptest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-lifecycle/internal/appointment"
)

// Store keeps appointments in a map and applies the same filters as the
// Postgres repository. Set the Err fields to make a call fail.
type Store struct {
	mu           sync.Mutex
	appointments map[uuid.UUID]*appointment.Appointment
	patientNames map[uuid.UUID]string
	events       []appointment.EventLog

	FindErr   error
	UpdateErr error
	EventErr  error

	// Bulk counts bulk update calls, for asserting one write per pass.
	Bulk int
}

var _ appointment.Repository = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		appointments: make(map[uuid.UUID]*appointment.Appointment),
		patientNames: make(map[uuid.UUID]string),
	}
}

// Add stores a copy of a, filling in ids that are unset, and returns its id.
func (s *Store) Add(a appointment.Appointment, patientName string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.PatientID == uuid.Nil {
		a.PatientID = uuid.New()
	}
	if a.DoctorID == uuid.Nil {
		a.DoctorID = uuid.New()
	}
	if a.ClinicID == uuid.Nil {
		a.ClinicID = uuid.New()
	}
	if a.Status == "" {
		a.Status = appointment.StatusScheduled
	}
	s.patientNames[a.PatientID] = patientName
	s.appointments[a.ID] = &a
	return a.ID
}

// Get returns a copy of the stored appointment.
func (s *Store) Get(id uuid.UUID) (appointment.Appointment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appointments[id]
	if !ok {
		return appointment.Appointment{}, false
	}
	return *a, true
}

// Set overwrites fields of a stored appointment in place.
func (s *Store) Set(id uuid.UUID, fn func(a *appointment.Appointment)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.appointments[id]; ok {
		fn(a)
	}
}

func (s *Store) Events() []appointment.EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]appointment.EventLog(nil), s.events...)
}

func (s *Store) FindExpirable(_ context.Context, cutoff time.Time) ([]appointment.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FindErr != nil {
		return nil, s.FindErr
	}

	var out []appointment.Summary
	for _, a := range s.appointments {
		if inSet(appointment.ExpirableStatuses, a.Status) && a.AppointmentDate.Before(cutoff) {
			out = append(out, s.summary(a))
		}
	}
	return out, nil
}

func (s *Store) BulkSetExpired(_ context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Bulk++
	if s.UpdateErr != nil {
		return nil, s.UpdateErr
	}

	var updated []uuid.UUID
	for _, id := range ids {
		a, ok := s.appointments[id]
		if !ok || !inSet(appointment.ExpirableStatuses, a.Status) {
			continue
		}
		a.Status = appointment.StatusExpired
		updated = append(updated, id)
	}
	return updated, nil
}

func (s *Store) FindInWindow(_ context.Context, start, end time.Time, flag appointment.ReminderFlag) ([]appointment.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FindErr != nil {
		return nil, s.FindErr
	}
	if !flag.Valid() {
		return nil, appointment.ErrInvalidReminderFlag
	}

	var out []appointment.Summary
	for _, a := range s.appointments {
		if !inSet(appointment.RemindableStatuses, a.Status) || a.Flag(flag) {
			continue
		}
		if a.AppointmentDate.Before(start) || a.AppointmentDate.After(end) {
			continue
		}
		out = append(out, s.summary(a))
	}
	return out, nil
}

func (s *Store) BulkSetFlag(_ context.Context, ids []uuid.UUID, flag appointment.ReminderFlag) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Bulk++
	if s.UpdateErr != nil {
		return nil, s.UpdateErr
	}
	if !flag.Valid() {
		return nil, appointment.ErrInvalidReminderFlag
	}

	var updated []uuid.UUID
	for _, id := range ids {
		a, ok := s.appointments[id]
		if !ok || a.Flag(flag) {
			continue
		}
		switch flag {
		case appointment.FlagNotifiedThirtyMin:
			a.NotifiedThirtyMin = true
		case appointment.FlagNotifiedTenMin:
			a.NotifiedTenMin = true
		}
		updated = append(updated, id)
	}
	return updated, nil
}

func (s *Store) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) UpdateAppointment(_ context.Context, a *appointment.Appointment, from appointment.Status) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.UpdateErr != nil {
		return nil, s.UpdateErr
	}

	cur, ok := s.appointments[a.ID]
	if !ok || cur.Status != from {
		return nil, appointment.ErrAppointmentNotFound
	}

	stored := *a
	stored.UpdatedAt = time.Now()
	s.appointments[a.ID] = &stored
	cp := stored
	return &cp, nil
}

func (s *Store) DeleteAppointment(_ context.Context, id uuid.UUID, from appointment.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.UpdateErr != nil {
		return s.UpdateErr
	}

	cur, ok := s.appointments[id]
	if !ok || cur.Status != from {
		return appointment.ErrAppointmentNotFound
	}
	delete(s.appointments, id)
	return nil
}

func (s *Store) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.EventErr != nil {
		return s.EventErr
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *Store) summary(a *appointment.Appointment) appointment.Summary {
	return appointment.Summary{
		ID:              a.ID,
		DoctorID:        a.DoctorID,
		PatientName:     s.patientNames[a.PatientID],
		AppointmentDate: a.AppointmentDate,
	}
}

func inSet(set []appointment.Status, s appointment.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
