package invitecount

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
)

// Records maps user ids to member records and remembers the order in which
// each id was first recorded. Replacing a record keeps its position.
//
// The zero value is an empty set ready for use.
type Records struct {
	ids  []string
	byID map[string]MemberRecord
}

// Get returns the record of userID.
func (r Records) Get(userID string) (MemberRecord, bool) {
	record, exists := r.byID[userID]

	return record, exists
}

// Set stores record under userID, appending userID when it is new.
func (r *Records) Set(userID string, record MemberRecord) {
	if r.byID == nil {
		r.byID = make(map[string]MemberRecord)
	}
	if _, exists := r.byID[userID]; !exists {
		r.ids = append(r.ids, userID)
	}
	r.byID[userID] = record
}

// Len returns the number of tracked ids.
func (r Records) Len() int {
	return len(r.ids)
}

// All yields every record in first-recorded order.
func (r Records) All() iter.Seq2[string, MemberRecord] {
	return func(yield func(string, MemberRecord) bool) {
		for _, userID := range r.ids {
			if !yield(userID, r.byID[userID]) {
				return
			}
		}
	}
}

// Clone returns an independent copy.
func (r Records) Clone() Records {
	cloned := Records{
		ids:  append([]string(nil), r.ids...),
		byID: make(map[string]MemberRecord, len(r.byID)),
	}
	for userID, record := range r.byID {
		cloned.byID[userID] = record
	}

	return cloned
}

// MarshalJSON writes one object whose keys follow first-recorded order.
func (r Records) MarshalJSON() ([]byte, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)

	buffer.WriteByte('{')
	for index, userID := range r.ids {
		if index > 0 {
			buffer.WriteByte(',')
		}
		if err := encoder.Encode(userID); err != nil {
			return nil, fmt.Errorf("marshal records key %s: %w", userID, err)
		}
		trimNewline(&buffer)
		buffer.WriteByte(':')
		if err := encoder.Encode(r.byID[userID]); err != nil {
			return nil, fmt.Errorf("marshal record %s: %w", userID, err)
		}
		trimNewline(&buffer)
	}
	buffer.WriteByte('}')

	return buffer.Bytes(), nil
}

// UnmarshalJSON reads one object, keeping its key order. A repeated key
// replaces the earlier record in place; null is an empty set.
func (r *Records) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	token, err := decoder.Token()
	if err != nil {
		return fmt.Errorf("unmarshal records: %w", err)
	}
	if token == nil {
		*r = Records{}
		return nil
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return errors.New("unmarshal records: document is not an object")
	}

	var decoded Records
	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return fmt.Errorf("unmarshal records key: %w", err)
		}
		userID, ok := token.(string)
		if !ok {
			return fmt.Errorf("unmarshal records: unexpected key %v", token)
		}

		var record MemberRecord
		if err := decoder.Decode(&record); err != nil {
			return fmt.Errorf("unmarshal record %s: %w", userID, err)
		}
		decoded.Set(userID, record)
	}
	if _, err := decoder.Token(); err != nil {
		return fmt.Errorf("unmarshal records end: %w", err)
	}

	*r = decoded

	return nil
}

func trimNewline(buffer *bytes.Buffer) {
	if buffer.Len() > 0 && buffer.Bytes()[buffer.Len()-1] == '\n' {
		buffer.Truncate(buffer.Len() - 1)
	}
}
