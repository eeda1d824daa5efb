package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadReference is returned when a seat or room reference cannot be
// resolved to a canonical identifier.
var ErrBadReference = errors.New("invalid reference")

// SeatRef decodes the shapes clients send for a seat (a bare identifier or
// an object carrying one) into a canonical SeatID.  Nothing past the
// decoding boundary looks at the original shape.
type SeatRef struct {
	ID SeatID
}

type seatRefObject struct {
	SeatID   string          `json:"seatId"`
	SeatIDSn string          `json:"seat_id"`
	MongoID  string          `json:"_id"`
	ID       string          `json:"id"`
	Row      string          `json:"row"`
	Number   json.RawMessage `json:"number"`
}

func (r *SeatRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("%w: empty seat", ErrBadReference)
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return r.set(s)
	}
	var obj seatRefObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: %v", ErrBadReference, err)
	}
	for _, s := range []string{obj.SeatID, obj.SeatIDSn, obj.MongoID, obj.ID} {
		if strings.TrimSpace(s) != "" {
			return r.set(s)
		}
	}
	if obj.Row != "" && len(obj.Number) > 0 {
		n := strings.Trim(string(obj.Number), `"`)
		if _, err := strconv.Atoi(n); err != nil {
			return fmt.Errorf("%w: seat number %q", ErrBadReference, n)
		}
		return r.set(obj.Row + n)
	}
	return fmt.Errorf("%w: seat object without identifier", ErrBadReference)
}

func (r SeatRef) MarshalJSON() ([]byte, error) { return json.Marshal(string(r.ID)) }

func (r *SeatRef) set(raw string) error {
	id := NormalizeSeatID(raw)
	if id == "" {
		return fmt.Errorf("%w: empty seat", ErrBadReference)
	}
	r.ID = id
	return nil
}

// SeatIDs resolves refs into de-duplicated canonical ids, keeping the first
// occurrence order.
func SeatIDs(refs []SeatRef) []SeatID {
	seen := make(map[SeatID]struct{}, len(refs))
	out := make([]SeatID, 0, len(refs))
	for _, r := range refs {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r.ID)
	}
	return out
}

// RoomRef accepts a room id as a number, a numeric string or an object with
// an id field.
type RoomRef struct {
	ID uint64
}

func (r *RoomRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("%w: empty room", ErrBadReference)
	}
	switch data[0] {
	case '{':
		var obj struct {
			ID      json.RawMessage `json:"id"`
			MongoID json.RawMessage `json:"_id"`
			RoomID  json.RawMessage `json:"roomId"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("%w: %v", ErrBadReference, err)
		}
		for _, raw := range []json.RawMessage{obj.ID, obj.MongoID, obj.RoomID} {
			if len(raw) > 0 {
				return r.UnmarshalJSON(raw)
			}
		}
		return fmt.Errorf("%w: room object without identifier", ErrBadReference)
	default:
		n, err := strconv.ParseUint(strings.Trim(string(data), `"`), 10, 64)
		if err != nil || n == 0 {
			return fmt.Errorf("%w: room %s", ErrBadReference, data)
		}
		r.ID = n
		return nil
	}
}

func (r RoomRef) MarshalJSON() ([]byte, error) { return json.Marshal(r.ID) }
