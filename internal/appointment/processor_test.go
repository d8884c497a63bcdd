package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/carelink/appointment-pipeline/internal/event"
	"github.com/carelink/appointment-pipeline/internal/fault"
)

type processorFixture struct {
	processor *Processor
	tracking  *fakeTracking
	countries *fakeCountryStore
	schedules *fakeScheduleStore
	bus       *fakeBus
}

func newProcessorFixture() *processorFixture {
	tracking := newFakeTracking()
	countries := newFakeCountryStore()
	schedules := newFakeScheduleStore()
	bus := &fakeBus{}
	processor := NewProcessor(tracking, countries, schedules, DefaultRules(time.Now), bus, zerolog.Nop())
	return &processorFixture{
		processor: processor,
		tracking:  tracking,
		countries: countries,
		schedules: schedules,
		bus:       bus,
	}
}

func createdEvent(appointmentID string, country Country, scheduleID string) event.Event {
	return event.New(event.AppointmentCreated, appointmentID, map[string]string{
		"appointmentId": appointmentID,
		"countryISO":    string(country),
		"insuredId":     "12345",
		"scheduleId":    scheduleID,
		"eventType":     event.AppointmentCreated,
		"timestamp":     time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (f *processorFixture) seedPending(id string, country Country, scheduleID int64) {
	f.schedules.add(testSchedule(scheduleID, country))
	appt := pendingAppointment(id, "12345", country, scheduleID, time.Now().UTC().Add(-time.Minute))
	f.tracking.records[id] = &appt
}

func TestProcessHappyPath(t *testing.T) {
	f := newProcessorFixture()
	f.seedPending("appt-1", CountryPE, 100)

	if err := f.processor.Handle(context.Background(), createdEvent("appt-1", CountryPE, "100")); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	appt := f.tracking.records["appt-1"]
	if appt.Status != StatusProcessed {
		t.Errorf("status = %s, want processed", appt.Status)
	}
	if appt.ProcessedAt == nil {
		t.Error("processed-at must be set")
	}

	rec, ok := f.countries.rows["appt-1"]
	if !ok {
		t.Fatal("country store row missing")
	}
	if rec.CountryISO != CountryPE || rec.Status != StatusProcessed {
		t.Errorf("country record = %+v", rec)
	}

	sched, _ := f.schedules.Get(context.Background(), 100, CountryPE)
	if sched.Status != ScheduleReserved || sched.ReservedBy == nil || *sched.ReservedBy != "appt-1" {
		t.Errorf("schedule not reserved by appt-1: %+v", sched)
	}

	processed := f.bus.named(event.AppointmentProcessed)
	if len(processed) != 1 {
		t.Fatalf("processed events = %d, want 1", len(processed))
	}
	if processed[0].Payload["status"] != "processed" {
		t.Errorf("payload status = %q", processed[0].Payload["status"])
	}
}

func TestProcessRedeliveryDoesNotRewriteStores(t *testing.T) {
	f := newProcessorFixture()
	f.seedPending("appt-1", CountryPE, 100)

	ev := createdEvent("appt-1", CountryPE, "100")
	if err := f.processor.Handle(context.Background(), ev); err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	firstUpdated := f.tracking.records["appt-1"].UpdatedAt
	if err := f.processor.Handle(context.Background(), ev); err != nil {
		t.Fatalf("redelivery must not error, got %v", err)
	}

	if f.tracking.records["appt-1"].Status != StatusProcessed {
		t.Error("status must remain processed")
	}
	if !f.tracking.records["appt-1"].UpdatedAt.Equal(firstUpdated) {
		t.Error("redelivery must not rewrite the tracking record")
	}
	if len(f.countries.rows) != 1 {
		t.Errorf("country rows = %d, want 1", len(f.countries.rows))
	}
	// a record found at processed gets its event published again in case
	// the first publish never happened; the completion stage dedupes
	if got := len(f.bus.named(event.AppointmentProcessed)); got != 2 {
		t.Errorf("processed events = %d, want one per delivery", got)
	}
}

func TestProcessRedeliveryRepairsLostPublish(t *testing.T) {
	f := newProcessorFixture()
	f.seedPending("appt-1", CountryPE, 100)

	// first delivery crashes after the transition, before the publish
	f.bus.down = true
	err := f.processor.Handle(context.Background(), createdEvent("appt-1", CountryPE, "100"))
	if !fault.Retryable(err) {
		t.Fatalf("err = %v, want retryable infrastructure failure", err)
	}
	if f.tracking.records["appt-1"].Status != StatusProcessed {
		t.Fatal("tracking record must already be processed")
	}
	if got := len(f.bus.named(event.AppointmentProcessed)); got != 0 {
		t.Fatalf("processed events = %d, want 0 before recovery", got)
	}

	f.bus.down = false
	if err := f.processor.Handle(context.Background(), createdEvent("appt-1", CountryPE, "100")); err != nil {
		t.Fatalf("redelivery after recovery: %v", err)
	}
	processed := f.bus.named(event.AppointmentProcessed)
	if len(processed) != 1 {
		t.Fatalf("processed events = %d, want 1 after redelivery", len(processed))
	}
	if processed[0].Payload["appointmentId"] != "appt-1" || processed[0].Payload["countryISO"] != "PE" {
		t.Errorf("republished payload = %+v", processed[0].Payload)
	}
}

func TestProcessRedeliveryAfterCompletionPublishesNothing(t *testing.T) {
	f := newProcessorFixture()
	f.seedPending("appt-1", CountryPE, 100)

	if err := f.processor.Handle(context.Background(), createdEvent("appt-1", CountryPE, "100")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if _, err := f.tracking.Transition(context.Background(), "appt-1", StatusProcessed, StatusCompleted, time.Now().UTC()); err != nil {
		t.Fatalf("seed completion: %v", err)
	}

	if err := f.processor.Handle(context.Background(), createdEvent("appt-1", CountryPE, "100")); err != nil {
		t.Fatalf("redelivery after completion: %v", err)
	}
	if got := len(f.bus.named(event.AppointmentProcessed)); got != 1 {
		t.Errorf("processed events = %d, want 1 (no republish once completed)", got)
	}
}

func TestProcessCountryMismatch(t *testing.T) {
	f := newProcessorFixture()
	f.seedPending("appt-1", CountryPE, 100)
	f.schedules.add(testSchedule(100, CountryCL))

	err := f.processor.Handle(context.Background(), createdEvent("appt-1", CountryCL, "100"))
	if !errors.Is(err, ErrCountryMismatch) {
		t.Fatalf("err = %v, want ErrCountryMismatch", err)
	}
	if fault.KindOf(err) != fault.KindBusiness {
		t.Errorf("kind = %v, want business", fault.KindOf(err))
	}
	if f.tracking.records["appt-1"].Status != StatusPending {
		t.Error("status must stay pending on mismatch")
	}
	if len(f.countries.rows) != 0 {
		t.Error("no country row may be written on mismatch")
	}
}

func TestProcessMissingScheduleFailsMessage(t *testing.T) {
	f := newProcessorFixture()
	appt := pendingAppointment("appt-1", "12345", CountryPE, 100, time.Now().UTC())
	f.tracking.records["appt-1"] = &appt

	err := f.processor.Handle(context.Background(), createdEvent("appt-1", CountryPE, "100"))
	if !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("err = %v, want ErrScheduleNotFound", err)
	}
	if f.tracking.records["appt-1"].Status != StatusPending {
		t.Error("status must stay pending")
	}
}

func TestProcessMalformedEvent(t *testing.T) {
	f := newProcessorFixture()

	err := f.processor.Handle(context.Background(), event.New(event.AppointmentCreated, "x", map[string]string{
		"countryISO": "PE",
	}))
	if fault.KindOf(err) != fault.KindValidation {
		t.Fatalf("kind = %v, want validation (err %v)", fault.KindOf(err), err)
	}
}

func TestProcessScheduleHeldByOtherAppointment(t *testing.T) {
	f := newProcessorFixture()
	f.seedPending("appt-1", CountryPE, 100)

	other := "appt-other"
	if err := f.schedules.Reserve(context.Background(), 100, CountryPE, other); err != nil {
		t.Fatalf("seed reserve: %v", err)
	}

	err := f.processor.Handle(context.Background(), createdEvent("appt-1", CountryPE, "100"))
	if !errors.Is(err, ErrScheduleConflict) {
		t.Fatalf("err = %v, want ErrScheduleConflict", err)
	}
	if f.tracking.records["appt-1"].Status != StatusPending {
		t.Error("status must stay pending after a reservation conflict")
	}
	if got := len(f.bus.named(event.AppointmentProcessed)); got != 0 {
		t.Errorf("processed events = %d, want 0", got)
	}
}

func TestProcessPastScheduleRejectedByRules(t *testing.T) {
	f := newProcessorFixture()
	past := testSchedule(100, CountryPE)
	past.Date = time.Now().UTC().Add(-time.Hour)
	f.schedules.add(past)
	appt := pendingAppointment("appt-1", "12345", CountryPE, 100, time.Now().UTC())
	f.tracking.records["appt-1"] = &appt

	err := f.processor.Handle(context.Background(), createdEvent("appt-1", CountryPE, "100"))
	if fault.KindOf(err) != fault.KindBusiness {
		t.Fatalf("kind = %v, want business (err %v)", fault.KindOf(err), err)
	}
}

func TestProcessInfraFailureIsRetryable(t *testing.T) {
	f := newProcessorFixture()
	f.seedPending("appt-1", CountryPE, 100)
	f.countries.down = true

	err := f.processor.Handle(context.Background(), createdEvent("appt-1", CountryPE, "100"))
	if !fault.Retryable(err) {
		t.Fatalf("err = %v, want retryable infrastructure failure", err)
	}
	// redelivery after the store recovers must finish the job
	f.countries.down = false
	if err := f.processor.Handle(context.Background(), createdEvent("appt-1", CountryPE, "100")); err != nil {
		t.Fatalf("redelivery after recovery: %v", err)
	}
	if f.tracking.records["appt-1"].Status != StatusProcessed {
		t.Error("status must be processed after recovery")
	}
}
