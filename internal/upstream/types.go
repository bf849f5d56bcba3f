// Package upstream polls the emergency-alert source feed and models the
// alert records it returns.
package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ReceivedAtFormat is the timestamp layout assigned to records at first
// persistence (ISO-8601 with millisecond precision, Zulu suffix).
const ReceivedAtFormat = "2006-01-02T15:04:05.000Z"

// upstreamTimeLayout is the zone-less ISO-8601 layout the source feed uses
// for startTime/endTime. All upstream times are UTC.
const upstreamTimeLayout = "2006-01-02T15:04:05"

// Record is a single alert object from the upstream active-alerts endpoint.
// ReceivedAt is assigned locally at first successful persistence and is
// excluded from the equality comparison used for the consistency check.
type Record struct {
	ID             string   `json:"id"`
	Hash           string   `json:"hash"`
	EventCode      string   `json:"type"`
	Originator     string   `json:"originator"`
	Callsign       string   `json:"callsign"`
	FIPSCodes      []string `json:"fipsCodes"`
	StartTimeEpoch float64  `json:"startTimeEpoch"`
	StartTime      string   `json:"startTime"`
	EndTimeEpoch   float64  `json:"endTimeEpoch"`
	EndTime        string   `json:"endTime"`
	AudioURL       string   `json:"audioUrl"`
	Translation    string   `json:"translation"`
	// ReceivedAt is not an upstream field: it is stamped at first ingest
	// and carried through persisted snapshots under the legacy key.
	ReceivedAt string `json:"boilerTime,omitempty"`
}

// UnmarshalJSON implements custom JSON unmarshaling for Record.
// The upstream feed has delivered id and hash both as JSON numbers and as
// strings; both are normalized to strings here.
func (r *Record) UnmarshalJSON(data []byte) error {
	// Type alias avoids infinite recursion when calling json.Unmarshal
	type Alias Record
	aux := &struct {
		IDRaw   json.RawMessage `json:"id"`
		HashRaw json.RawMessage `json:"hash"`
		*Alias
	}{
		Alias: (*Alias)(r),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	id, err := scalarToString(aux.IDRaw)
	if err != nil {
		return fmt.Errorf("failed to parse record id: %w", err)
	}
	r.ID = id

	hash, err := scalarToString(aux.HashRaw)
	if err != nil {
		return fmt.Errorf("failed to parse record hash: %w", err)
	}
	r.Hash = hash

	return nil
}

// scalarToString renders a JSON string or number as its string form.
// null and absent values become the empty string.
func scalarToString(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// Station returns the callsign with trailing padding removed. Some encoders
// pad station IDs with spaces up to the SAME field width.
func (r Record) Station() string {
	return strings.TrimRight(r.Callsign, " ")
}

// ExpiresAt parses the record's expiry timestamp. The zone-less upstream
// string is preferred; the epoch field is the fallback.
func (r Record) ExpiresAt() (time.Time, error) {
	if r.EndTime != "" {
		if t, err := time.ParseInLocation(upstreamTimeLayout, r.EndTime, time.UTC); err == nil {
			return t, nil
		}
		if t, err := time.Parse(time.RFC3339, r.EndTime); err == nil {
			return t.UTC(), nil
		}
	}
	if r.EndTimeEpoch > 0 {
		sec := int64(r.EndTimeEpoch)
		nsec := int64((r.EndTimeEpoch - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("record %s has no parseable expiry time (endTime=%q)", r.ID, r.EndTime)
}

// Expired reports whether the record's expiry timestamp is strictly in the
// past at the given instant. An unparseable expiry is treated as expired so
// the record cannot linger on the feed forever.
func (r Record) Expired(now time.Time) bool {
	expires, err := r.ExpiresAt()
	if err != nil {
		return true
	}
	return now.After(expires)
}

// EqualIgnoringReceiveTime compares two records field-by-field, skipping
// the locally assigned ReceivedAt stamp.
func (r Record) EqualIgnoringReceiveTime(other Record) bool {
	if r.ID != other.ID ||
		r.Hash != other.Hash ||
		r.EventCode != other.EventCode ||
		r.Originator != other.Originator ||
		r.Callsign != other.Callsign ||
		r.StartTimeEpoch != other.StartTimeEpoch ||
		r.StartTime != other.StartTime ||
		r.EndTimeEpoch != other.EndTimeEpoch ||
		r.EndTime != other.EndTime ||
		r.AudioURL != other.AudioURL ||
		r.Translation != other.Translation {
		return false
	}
	if len(r.FIPSCodes) != len(other.FIPSCodes) {
		return false
	}
	for i := range r.FIPSCodes {
		if r.FIPSCodes[i] != other.FIPSCodes[i] {
			return false
		}
	}
	return true
}
