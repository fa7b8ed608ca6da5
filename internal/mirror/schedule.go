package mirror

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tidwall/gjson"
)

const (
	ScheduleEvery   = "every"
	ScheduleCron    = "cron"
	ScheduleAt      = "at"
	ScheduleUnknown = "unknown"
)

// Schedule is the decoded form of a cron job's schedule blob. Only the
// fields of the matching Kind are set.
type Schedule struct {
	Kind  string
	Every time.Duration
	Expr  string
	TZ    string
	At    *time.Time
	Raw   json.RawMessage

	spec cron.Schedule
}

// DecodeSchedule decodes data according to kind. Unknown kinds decode to a
// ScheduleUnknown value carrying the raw data; malformed known kinds fail.
func DecodeSchedule(kind, data string) (Schedule, error) {
	if data == "" {
		data = "{}"
	}
	if !gjson.Valid(data) {
		return Schedule{}, fmt.Errorf("decode %s schedule: invalid json", kind)
	}
	s := Schedule{Kind: kind, Raw: json.RawMessage(data)}

	switch kind {
	case ScheduleEvery:
		ms := gjson.Get(data, "everyMs")
		if !ms.Exists() || ms.Int() <= 0 {
			return Schedule{}, fmt.Errorf("decode every schedule: everyMs must be positive")
		}
		s.Every = time.Duration(ms.Int()) * time.Millisecond

	case ScheduleCron:
		s.Expr = strings.TrimSpace(gjson.Get(data, "expr").String())
		s.TZ = gjson.Get(data, "tz").String()
		if s.Expr == "" {
			return Schedule{}, fmt.Errorf("decode cron schedule: missing expr")
		}
		expr := s.Expr
		if s.TZ != "" {
			expr = "CRON_TZ=" + s.TZ + " " + expr
		}
		spec, err := cron.ParseStandard(expr)
		if err != nil {
			return Schedule{}, fmt.Errorf("decode cron schedule %q: %w", s.Expr, err)
		}
		s.spec = spec

	case ScheduleAt:
		at, ok := decodeAt(data)
		if !ok {
			return Schedule{}, fmt.Errorf("decode at schedule: missing atMs or at")
		}
		s.At = &at

	default:
		s.Kind = ScheduleUnknown
	}
	return s, nil
}

func decodeAt(data string) (time.Time, bool) {
	if ms := gjson.Get(data, "atMs"); ms.Exists() && ms.Int() > 0 {
		return time.UnixMilli(ms.Int()).UTC(), true
	}
	if at := gjson.Get(data, "at"); at.Exists() {
		if sec := parseEpochSeconds(json.RawMessage(at.Raw)); sec != nil {
			return unixTime(*sec), true
		}
	}
	return time.Time{}, false
}

// Next returns the first fire time strictly after after, if the schedule
// has one.
func (s Schedule) Next(after time.Time) (time.Time, bool) {
	switch s.Kind {
	case ScheduleEvery:
		return after.Add(s.Every), true
	case ScheduleCron:
		if s.spec == nil {
			return time.Time{}, false
		}
		next := s.spec.Next(after)
		return next, !next.IsZero()
	case ScheduleAt:
		if s.At != nil && s.At.After(after) {
			return *s.At, true
		}
	}
	return time.Time{}, false
}

// Describe renders a short human summary for listings.
func (s Schedule) Describe() string {
	switch s.Kind {
	case ScheduleEvery:
		return "every " + s.Every.String()
	case ScheduleCron:
		if s.TZ != "" {
			return fmt.Sprintf("cron %s (%s)", s.Expr, s.TZ)
		}
		return "cron " + s.Expr
	case ScheduleAt:
		if s.At != nil {
			return "at " + s.At.Format(time.RFC3339)
		}
	}
	return "unknown"
}

// PayloadSummary pulls the human text out of a payload blob: the text of a
// system event or the message of an agent turn.
func PayloadSummary(kind, data string) string {
	switch kind {
	case "systemEvent":
		return gjson.Get(data, "text").String()
	case "agentTurn":
		return gjson.Get(data, "message").String()
	}
	return ""
}
