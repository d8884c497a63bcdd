package appointment

import (
	"regexp"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusCompleted Status = "completed"
)

// next maps each status to the only status it may advance to. The
// lifecycle is strictly forward, there is no way back.
var next = map[Status]Status{
	StatusPending:   StatusProcessed,
	StatusProcessed: StatusCompleted,
}

// CanTransition reports whether from may advance directly to to.
func CanTransition(from, to Status) bool {
	return next[from] == to
}

type Country string

const (
	CountryPE Country = "PE"
	CountryCL Country = "CL"
)

// SupportedCountries is the closed set the pipeline routes for. Adding a
// country means a new entry here, a rules entry and a config mapping.
var SupportedCountries = []Country{CountryPE, CountryCL}

func (c Country) Supported() bool {
	for _, sc := range SupportedCountries {
		if c == sc {
			return true
		}
	}
	return false
}

var insuredIDPattern = regexp.MustCompile(`^\d{5}$`)

// ValidInsuredID reports whether id is a well-formed insured-person
// identifier (exactly five digits).
func ValidInsuredID(id string) bool {
	return insuredIDPattern.MatchString(id)
}

type ScheduleStatus string

const (
	ScheduleAvailable ScheduleStatus = "available"
	ScheduleReserved  ScheduleStatus = "reserved"
)

// Schedule is a bookable slot, scoped per country.
type Schedule struct {
	ID          int64
	CountryISO  Country
	CenterID    int
	SpecialtyID int
	MedicID     int
	Date        time.Time
	Status      ScheduleStatus
	ReservedBy  *string // appointment id holding the reservation
}

// Appointment is the authoritative record in the primary tracking store.
type Appointment struct {
	ID          string
	InsuredID   string
	CountryISO  Country
	ScheduleID  int64
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt *time.Time
	Schedule    ScheduleDetail
}

// ScheduleDetail is the slot snapshot embedded in the tracking record so
// queries do not have to join back to the schedule store.
type ScheduleDetail struct {
	CenterID    int
	SpecialtyID int
	MedicID     int
	Date        time.Time
}

// CountryRecord is the processed copy written to the per-country store
// once country rules have run. It is the audit/query shape, not the
// authoritative one.
type CountryRecord struct {
	AppointmentID string
	InsuredID     string
	ScheduleID    int64
	CountryISO    Country
	CenterID      int
	SpecialtyID   int
	MedicID       int
	Date          time.Time
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
