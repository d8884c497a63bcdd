package appointment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/carelink/appointment-pipeline/internal/event"
	"github.com/carelink/appointment-pipeline/internal/fault"
)

var errStoreDown = errors.New("store unavailable")

type fakeTracking struct {
	mu      sync.Mutex
	records map[string]*Appointment
	down    bool
}

func newFakeTracking() *fakeTracking {
	return &fakeTracking{records: make(map[string]*Appointment)}
}

func (f *fakeTracking) CreatePending(ctx context.Context, appt Appointment) (*Appointment, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, false, fault.Infra(errStoreDown)
	}

	if existing, ok := f.records[appt.ID]; ok {
		if existing.Status != StatusPending {
			return nil, false, fault.Business(ErrDuplicateAppointment)
		}
		cp := *existing
		return &cp, false, nil
	}

	stored := appt
	stored.Status = StatusPending
	f.records[appt.ID] = &stored
	cp := stored
	return &cp, true, nil
}

func (f *fakeTracking) Get(ctx context.Context, id string) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, fault.Infra(errStoreDown)
	}
	appt, ok := f.records[id]
	if !ok {
		return nil, fault.Business(ErrAppointmentNotFound)
	}
	cp := *appt
	return &cp, nil
}

func (f *fakeTracking) Transition(ctx context.Context, id string, from, to Status, at time.Time) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return "", fault.Infra(errStoreDown)
	}
	appt, ok := f.records[id]
	if !ok {
		return "", fault.Business(ErrAppointmentNotFound)
	}
	if appt.Status != from {
		return appt.Status, nil
	}
	appt.Status = to
	appt.UpdatedAt = at
	if to == StatusProcessed {
		t := at
		appt.ProcessedAt = &t
	}
	return from, nil
}

func (f *fakeTracking) ListByInsured(ctx context.Context, insuredID string, limit, offset int) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, fault.Infra(errStoreDown)
	}
	var out []Appointment
	for _, appt := range f.records {
		if appt.InsuredID == insuredID {
			out = append(out, *appt)
		}
	}
	return out, nil
}

type fakeCountryStore struct {
	mu   sync.Mutex
	rows map[string]CountryRecord // keyed by appointment id
	down bool
}

func newFakeCountryStore() *fakeCountryStore {
	return &fakeCountryStore{rows: make(map[string]CountryRecord)}
}

func (f *fakeCountryStore) Upsert(ctx context.Context, rec CountryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return fault.Infra(errStoreDown)
	}
	f.rows[rec.AppointmentID] = rec
	return nil
}

func (f *fakeCountryStore) GetByAppointmentID(ctx context.Context, id string, hint Country) (*CountryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, fault.Infra(errStoreDown)
	}
	rec, ok := f.rows[id]
	if !ok || (hint != "" && rec.CountryISO != hint) {
		return nil, fault.Business(ErrAppointmentNotFound)
	}
	cp := rec
	return &cp, nil
}

func (f *fakeCountryStore) ListByInsured(ctx context.Context, insuredID string) ([]CountryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, fault.Infra(errStoreDown)
	}
	var out []CountryRecord
	for _, rec := range f.rows {
		if rec.InsuredID == insuredID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type scheduleKey struct {
	id      int64
	country Country
}

type fakeScheduleStore struct {
	mu        sync.Mutex
	schedules map[scheduleKey]*Schedule
}

func newFakeScheduleStore() *fakeScheduleStore {
	return &fakeScheduleStore{schedules: make(map[scheduleKey]*Schedule)}
}

func (f *fakeScheduleStore) add(s Schedule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := s
	if cp.Status == "" {
		cp.Status = ScheduleAvailable
	}
	f.schedules[scheduleKey{s.ID, s.CountryISO}] = &cp
}

func (f *fakeScheduleStore) Get(ctx context.Context, scheduleID int64, country Country) (*Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[scheduleKey{scheduleID, country}]
	if !ok {
		return nil, fault.Business(ErrScheduleNotFound)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeScheduleStore) Reserve(ctx context.Context, scheduleID int64, country Country, appointmentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[scheduleKey{scheduleID, country}]
	if !ok {
		return fault.Business(ErrScheduleNotFound)
	}
	if s.Status == ScheduleReserved && (s.ReservedBy == nil || *s.ReservedBy != appointmentID) {
		return fault.Business(ErrScheduleConflict)
	}
	s.Status = ScheduleReserved
	s.ReservedBy = &appointmentID
	return nil
}

type fakeBus struct {
	mu     sync.Mutex
	events []event.Event
	down   bool
}

func (f *fakeBus) Publish(ctx context.Context, ev event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return fault.Infraf("publish %s: %w", ev.Name, errStoreDown)
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeBus) named(name string) []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []event.Event
	for _, ev := range f.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

type routedEvent struct {
	country string
	ev      event.Event
}

type fakeCountryPublisher struct {
	mu     sync.Mutex
	events []routedEvent
	down   bool
}

func (f *fakeCountryPublisher) PublishTo(ctx context.Context, country string, ev event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return fault.Infraf("publish %s to %s: %w", ev.Name, country, errStoreDown)
	}
	f.events = append(f.events, routedEvent{country: country, ev: ev})
	return nil
}

// fixedClock pins time for deterministic assertions.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func futureDate() time.Time {
	return time.Now().UTC().Add(72 * time.Hour).Truncate(time.Second)
}

func testSchedule(id int64, country Country) Schedule {
	return Schedule{
		ID:          id,
		CountryISO:  country,
		CenterID:    4,
		SpecialtyID: 3,
		MedicID:     7,
		Date:        futureDate(),
		Status:      ScheduleAvailable,
	}
}

func pendingAppointment(id, insuredID string, country Country, scheduleID int64, createdAt time.Time) Appointment {
	return Appointment{
		ID:         id,
		InsuredID:  insuredID,
		CountryISO: country,
		ScheduleID: scheduleID,
		Status:     StatusPending,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
		Schedule: ScheduleDetail{
			CenterID:    4,
			SpecialtyID: 3,
			MedicID:     7,
			Date:        futureDate(),
		},
	}
}
