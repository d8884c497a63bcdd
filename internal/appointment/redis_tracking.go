package appointment

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carelink/appointment-pipeline/internal/fault"
)

// RedisTrackingStore keeps one hash per appointment plus a per-insured
// sorted set as the secondary access path. Creation and status
// transitions run as Lua scripts so the condition and the write are a
// single atomic round trip.
type RedisTrackingStore struct {
	client *redis.Client
}

func NewRedisTrackingStore(client *redis.Client) *RedisTrackingStore {
	return &RedisTrackingStore{client: client}
}

func apptKey(id string) string           { return "appt:" + id }
func insuredKey(insuredID string) string { return "appt:insured:" + insuredID }

// createScript writes the record only when the key is absent. An
// existing pending record is left untouched (duplicate intake), a
// record in a later state must never be overwritten.
// Returns 1 created, 2 existing pending, 0 existing non-pending.
var createScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if status == "pending" then
  return 2
end
if status then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV, 3, #ARGV))
redis.call("ZADD", KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// transitionScript applies from -> to only when the current status is
// from, and returns the status it found ("" when the key is missing).
var transitionScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if not status then
  return ""
end
if status ~= ARGV[1] then
  return status
end
redis.call("HSET", KEYS[1], "status", ARGV[2], "updated_at", ARGV[3])
if ARGV[4] ~= "" then
  redis.call("HSET", KEYS[1], "processed_at", ARGV[4])
end
return ARGV[1]
`)

func (s *RedisTrackingStore) CreatePending(ctx context.Context, appt Appointment) (*Appointment, bool, error) {
	fields := []interface{}{
		"appointment_id", appt.ID,
		"insured_id", appt.InsuredID,
		"country_iso", string(appt.CountryISO),
		"schedule_id", strconv.FormatInt(appt.ScheduleID, 10),
		"status", string(StatusPending),
		"created_at", appt.CreatedAt.Format(time.RFC3339Nano),
		"updated_at", appt.UpdatedAt.Format(time.RFC3339Nano),
		"processed_at", "",
		"center_id", strconv.Itoa(appt.Schedule.CenterID),
		"specialty_id", strconv.Itoa(appt.Schedule.SpecialtyID),
		"medic_id", strconv.Itoa(appt.Schedule.MedicID),
		"schedule_date", appt.Schedule.Date.Format(time.RFC3339Nano),
	}

	argv := append([]interface{}{strconv.FormatInt(appt.CreatedAt.UnixNano(), 10), appt.ID}, fields...)

	res, err := createScript.Run(ctx, s.client, []string{apptKey(appt.ID), insuredKey(appt.InsuredID)}, argv...).Int()
	if err != nil {
		return nil, false, fault.Infraf("create appointment %s: %w", appt.ID, err)
	}

	switch res {
	case 1:
		out := appt
		out.Status = StatusPending
		return &out, true, nil
	case 2:
		existing, err := s.Get(ctx, appt.ID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	default:
		return nil, false, fault.Business(ErrDuplicateAppointment)
	}
}

func (s *RedisTrackingStore) Get(ctx context.Context, id string) (*Appointment, error) {
	fields, err := s.client.HGetAll(ctx, apptKey(id)).Result()
	if err != nil {
		return nil, fault.Infraf("load appointment %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fault.Business(ErrAppointmentNotFound)
	}
	return appointmentFromHash(fields)
}

func (s *RedisTrackingStore) Transition(ctx context.Context, id string, from, to Status, at time.Time) (Status, error) {
	if !CanTransition(from, to) {
		return "", fault.Business(ErrInvalidStatusTransition)
	}

	processedAt := ""
	if to == StatusProcessed {
		processedAt = at.Format(time.RFC3339Nano)
	}

	res, err := transitionScript.Run(ctx, s.client,
		[]string{apptKey(id)},
		string(from), string(to), at.Format(time.RFC3339Nano), processedAt,
	).Text()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fault.Infraf("transition appointment %s to %s: %w", id, to, err)
	}
	if res == "" {
		return "", fault.Business(ErrAppointmentNotFound)
	}
	return Status(res), nil
}

func (s *RedisTrackingStore) ListByInsured(ctx context.Context, insuredID string, limit, offset int) ([]Appointment, error) {
	ids, err := s.client.ZRevRange(ctx, insuredKey(insuredID), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fault.Infraf("list appointments for insured %s: %w", insuredID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, apptKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fault.Infraf("hydrate appointments for insured %s: %w", insuredID, err)
	}

	out := make([]Appointment, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue // index entry without a hash, skip
		}
		appt, err := appointmentFromHash(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, *appt)
	}
	return out, nil
}

func appointmentFromHash(fields map[string]string) (*Appointment, error) {
	scheduleID, err := strconv.ParseInt(fields["schedule_id"], 10, 64)
	if err != nil {
		return nil, fault.Infraf("malformed schedule_id %q: %w", fields["schedule_id"], err)
	}

	createdAt, err := parseStoredTime(fields["created_at"])
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseStoredTime(fields["updated_at"])
	if err != nil {
		return nil, err
	}

	var processedAt *time.Time
	if fields["processed_at"] != "" {
		t, err := parseStoredTime(fields["processed_at"])
		if err != nil {
			return nil, err
		}
		processedAt = &t
	}

	centerID, _ := strconv.Atoi(fields["center_id"])
	specialtyID, _ := strconv.Atoi(fields["specialty_id"])
	medicID, _ := strconv.Atoi(fields["medic_id"])
	scheduleDate, _ := time.Parse(time.RFC3339Nano, fields["schedule_date"])

	return &Appointment{
		ID:          fields["appointment_id"],
		InsuredID:   fields["insured_id"],
		CountryISO:  Country(fields["country_iso"]),
		ScheduleID:  scheduleID,
		Status:      Status(fields["status"]),
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
		ProcessedAt: processedAt,
		Schedule: ScheduleDetail{
			CenterID:    centerID,
			SpecialtyID: specialtyID,
			MedicID:     medicID,
			Date:        scheduleDate,
		},
	}, nil
}

func parseStoredTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fault.Infraf("malformed stored timestamp %q: %w", v, err)
	}
	return t, nil
}

var _ TrackingStore = (*RedisTrackingStore)(nil)
