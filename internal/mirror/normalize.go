package mirror

import (
	"bytes"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// epochMillisThreshold separates numeric timestamps in seconds from those in
// milliseconds; 1e11 seconds is the year 5138.
const epochMillisThreshold = 1e11

func sessionID(gatewayID, sessionKey string) string {
	return gatewayID + "_" + sessionKey
}

func cronJobID(gatewayID, remoteID string) string {
	return gatewayID + "_" + remoteID
}

func positionalMessageID(sessionID string, position int) string {
	return sessionID + "_" + strconv.Itoa(position)
}

// remoteMessageID hex-encodes the remote id so the part after the last "_"
// never contains another "_". Positional ids end in "_<digits>" and remote
// ids in "_r<hex>", so the trailing segment alone names the session and the
// message, and ids stay distinct across sessions whose keys share a prefix.
func remoteMessageID(sessionID, remoteID string) string {
	return sessionID + "_r" + hex.EncodeToString([]byte(remoteID))
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseEpochSeconds normalizes a raw JSON timestamp to epoch seconds.
// Strings are parsed as ISO-8601; numbers are epoch milliseconds unless they
// are too small to be. Missing or unparseable input yields nil.
func parseEpochSeconds(raw json.RawMessage) *int64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseTimestampString(s)
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return epochFromNumber(f)
	}
	return nil
}

func parseTimestampString(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			sec := floorDiv(t.UnixMilli(), 1000)
			return &sec
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return epochFromNumber(f)
	}
	return nil
}

func epochFromNumber(f float64) *int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return nil
	}
	if f >= epochMillisThreshold {
		f = f / 1000
	}
	sec := int64(math.Floor(f))
	return &sec
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// asInt64 reads a loose JSON number (or numeric string); anything else is 0.
func asInt64(raw json.RawMessage) int64 {
	return int64(asFloat64(raw))
}

func asFloat64(raw json.RawMessage) float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return parsed
		}
	}
	return 0
}

// canonicalContent stores strings verbatim and anything structured as
// compact JSON text.
func canonicalContent(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return compactJSON(raw, string(raw))
}

// canonicalObject returns the compact JSON form of an opaque sub-object,
// "{}" when absent.
func canonicalObject(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "{}"
	}
	return compactJSON(raw, "{}")
}

func compactJSON(raw json.RawMessage, fallback string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return fallback
	}
	return buf.String()
}

// discriminator extracts the "kind" tag without decoding the rest.
func discriminator(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	kind := gjson.GetBytes(raw, "kind")
	if kind.Type != gjson.String {
		return ""
	}
	return kind.String()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
