package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TruthShard is an archived prompt/response exchange.
//
// Only Remixes changes after creation; every other field is fixed once the
// shard has been minted.
type TruthShard struct {
	ID        string
	Timestamp time.Time
	Mode      Mode
	Prompt    string
	Response  string
	Owner     string
	Remixes   []string
}

// ShardRecord is the wire and storage form of a TruthShard. Timestamps are
// Unix milliseconds.
type ShardRecord struct {
	ID        string   `json:"id" jsonschema:"required,minLength=1"`
	Timestamp int64    `json:"timestamp" jsonschema:"required,description=Creation time in Unix milliseconds"`
	Mode      Mode     `json:"mode" jsonschema:"required,enum=clairvoyant,enum=dissociative"`
	Prompt    string   `json:"prompt" jsonschema:"required,minLength=1"`
	Response  string   `json:"response" jsonschema:"required,minLength=1"`
	Owner     string   `json:"owner" jsonschema:"required,minLength=1"`
	Remixes   []string `json:"remixes" jsonschema:"required"`
}

// Record converts s to its wire form. Remixes is never nil.
func (s *TruthShard) Record() ShardRecord {
	remixes := s.Remixes
	if remixes == nil {
		remixes = []string{}
	}
	var ts int64
	if !s.Timestamp.IsZero() {
		ts = s.Timestamp.UnixMilli()
	}
	return ShardRecord{
		ID:        s.ID,
		Timestamp: ts,
		Mode:      s.Mode,
		Prompt:    s.Prompt,
		Response:  s.Response,
		Owner:     s.Owner,
		Remixes:   remixes,
	}
}

// Shard converts a wire record back to a TruthShard.
func (r ShardRecord) Shard() *TruthShard {
	s := &TruthShard{
		ID:       r.ID,
		Mode:     r.Mode,
		Prompt:   r.Prompt,
		Response: r.Response,
		Owner:    r.Owner,
		Remixes:  r.Remixes,
	}
	if r.Timestamp != 0 {
		s.Timestamp = time.UnixMilli(r.Timestamp)
	}
	if s.Remixes == nil {
		s.Remixes = []string{}
	}
	return s
}

// MarshalJSON encodes the shard in its wire form.
func (s TruthShard) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Record())
}

// UnmarshalJSON decodes the wire form.
func (s *TruthShard) UnmarshalJSON(data []byte) error {
	var r ShardRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*s = *r.Shard()
	return nil
}

// Validate checks required fields and the mode enum.
func (s *TruthShard) Validate() error {
	if s == nil {
		return &ValidationError{Field: "shard", Reason: "must not be nil"}
	}
	required := []struct {
		field string
		value string
	}{
		{"id", s.ID},
		{"prompt", s.Prompt},
		{"response", s.Response},
		{"owner", s.Owner},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ValidationError{Field: r.field, Reason: "is required"}
		}
	}
	if s.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "is required"}
	}
	if !s.Mode.Valid() {
		return &ValidationError{Field: "mode", Reason: fmt.Sprintf("unrecognized mode %q", s.Mode)}
	}
	return nil
}

// HasRemix reports whether id is already linked as a remix of s.
func (s *TruthShard) HasRemix(id string) bool {
	for _, r := range s.Remixes {
		if r == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers cannot alias the remix slice.
func (s *TruthShard) Clone() *TruthShard {
	c := *s
	c.Remixes = append([]string{}, s.Remixes...)
	return &c
}
