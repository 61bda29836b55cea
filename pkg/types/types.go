// ///////////////////////////////////////////////////////////////////////////
//
// # TableHash - Merkle digests for sorted tables
//
// Copyright (C) 2023 - 2026, pgEdge (https://www.pgedge.com/)
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package types

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// KeyRange is an interval over the ordered key space. A nil Start or End
// means the range is unbounded on that side; unbounded sides are never
// inclusive.
type KeyRange struct {
	Start          []byte
	StartInclusive bool
	End            []byte
	EndInclusive   bool
}

// NewKeyRange builds a range the same way the store's split metadata does:
// nil keys are unbounded, and inclusivity on an unbounded side is dropped.
func NewKeyRange(start []byte, startInclusive bool, end []byte, endInclusive bool) KeyRange {
	r := KeyRange{Start: start, StartInclusive: startInclusive, End: end, EndInclusive: endInclusive}
	if start == nil {
		r.StartInclusive = false
	}
	if end == nil {
		r.EndInclusive = false
	}
	return r
}

// Unbounded returns the range covering the whole key space.
func Unbounded() KeyRange {
	return KeyRange{}
}

func (r KeyRange) StartUnbounded() bool { return r.Start == nil }
func (r KeyRange) EndUnbounded() bool   { return r.End == nil }

// IsUnbounded reports whether r covers the entire key space.
func (r KeyRange) IsUnbounded() bool {
	return r.Start == nil && r.End == nil
}

// Validate checks the structural invariants of a range.
func (r KeyRange) Validate() error {
	if r.Start == nil && r.StartInclusive {
		return fmt.Errorf("unbounded start cannot be inclusive")
	}
	if r.End == nil && r.EndInclusive {
		return fmt.Errorf("unbounded end cannot be inclusive")
	}
	if r.Start == nil || r.End == nil {
		return nil
	}
	switch c := bytes.Compare(r.Start, r.End); {
	case c > 0:
		return fmt.Errorf("start %q sorts after end %q", r.Start, r.End)
	case c == 0 && !(r.StartInclusive && r.EndInclusive):
		return fmt.Errorf("range %s is empty", r)
	}
	return nil
}

// Contains reports whether key falls inside r.
func (r KeyRange) Contains(key []byte) bool {
	if r.Start != nil {
		c := bytes.Compare(key, r.Start)
		if c < 0 || (c == 0 && !r.StartInclusive) {
			return false
		}
	}
	if r.End != nil {
		c := bytes.Compare(key, r.End)
		if c > 0 || (c == 0 && !r.EndInclusive) {
			return false
		}
	}
	return true
}

// Equal reports whether both ranges have identical bounds.
func (r KeyRange) Equal(o KeyRange) bool {
	return CompareRanges(r, o) == 0
}

// CompareStart orders two ranges by their start bound. Unbounded starts sort
// first; on equal keys an inclusive start sorts before an exclusive one.
func CompareStart(a, b KeyRange) int {
	switch {
	case a.Start == nil && b.Start == nil:
		return 0
	case a.Start == nil:
		return -1
	case b.Start == nil:
		return 1
	}
	if c := bytes.Compare(a.Start, b.Start); c != 0 {
		return c
	}
	switch {
	case a.StartInclusive == b.StartInclusive:
		return 0
	case a.StartInclusive:
		return -1
	default:
		return 1
	}
}

// CompareEnd orders two ranges by their end bound. Unbounded ends sort last;
// on equal keys an exclusive end sorts before an inclusive one.
func CompareEnd(a, b KeyRange) int {
	switch {
	case a.End == nil && b.End == nil:
		return 0
	case a.End == nil:
		return 1
	case b.End == nil:
		return -1
	}
	if c := bytes.Compare(a.End, b.End); c != 0 {
		return c
	}
	switch {
	case a.EndInclusive == b.EndInclusive:
		return 0
	case a.EndInclusive:
		return 1
	default:
		return -1
	}
}

// CompareRanges orders ranges by start bound, then end bound.
func CompareRanges(a, b KeyRange) int {
	if c := CompareStart(a, b); c != 0 {
		return c
	}
	return CompareEnd(a, b)
}

func (r KeyRange) String() string {
	var b bytes.Buffer
	if r.Start == nil {
		b.WriteString("(-inf")
	} else {
		if r.StartInclusive {
			b.WriteByte('[')
		} else {
			b.WriteByte('(')
		}
		b.WriteString(strconv.Quote(string(r.Start)))
	}
	b.WriteString(", ")
	if r.End == nil {
		b.WriteString("+inf)")
	} else {
		b.WriteString(strconv.Quote(string(r.End)))
		if r.EndInclusive {
			b.WriteByte(']')
		} else {
			b.WriteByte(')')
		}
	}
	return b.String()
}

type keyRangeJSON struct {
	Start          *string `json:"start"`
	StartInclusive bool    `json:"start_inclusive"`
	End            *string `json:"end"`
	EndInclusive   bool    `json:"end_inclusive"`
}

// MarshalJSON renders bounds as hex strings, with null for unbounded sides.
func (r KeyRange) MarshalJSON() ([]byte, error) {
	out := keyRangeJSON{StartInclusive: r.StartInclusive, EndInclusive: r.EndInclusive}
	if r.Start != nil {
		s := hex.EncodeToString(r.Start)
		out.Start = &s
	}
	if r.End != nil {
		e := hex.EncodeToString(r.End)
		out.End = &e
	}
	return json.Marshal(out)
}

func (r *KeyRange) UnmarshalJSON(data []byte) error {
	var in keyRangeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	var start, end []byte
	if in.Start != nil {
		b, err := hex.DecodeString(*in.Start)
		if err != nil {
			return fmt.Errorf("invalid range start: %w", err)
		}
		start = b
	}
	if in.End != nil {
		b, err := hex.DecodeString(*in.End)
		if err != nil {
			return fmt.Errorf("invalid range end: %w", err)
		}
		end = b
	}
	*r = NewKeyRange(start, in.StartInclusive, end, in.EndInclusive)
	return nil
}

// Entry is a single key/value pair read from a source table.
type Entry struct {
	Key   []byte
	Value []byte
}

// TableMetadata is the sidecar a store may keep next to an output table.
type TableMetadata struct {
	Algorithm string    `json:"algorithm"`
	LeafCount int       `json:"leaf_count"`
	Complete  bool      `json:"complete"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Task struct {
	TaskID     string
	TaskType   string
	TaskStatus string
	StartedAt  time.Time
	FinishedAt time.Time
	TimeTaken  float64
}

// TableHash is one line of a table comparison report.
type TableHash struct {
	Table  string `json:"table"`
	Output string `json:"output_table"`
	Hash   string `json:"hash"`
	Leaves int    `json:"leaves"`
}

// CompareOutput is the structured result of a table comparison.
type CompareOutput struct {
	Algorithm string      `json:"algorithm"`
	Tables    []TableHash `json:"tables"`
	Match     bool        `json:"match"`
	StartTime string      `json:"start_time"`
	EndTime   string      `json:"end_time"`
	TimeTaken string      `json:"time_taken"`
}

// DivergenceOutput lists the ranges where two hashed tables disagree.
type DivergenceOutput struct {
	Algorithm string     `json:"algorithm"`
	Left      string     `json:"left"`
	Right     string     `json:"right"`
	Ranges    []KeyRange `json:"ranges"`
}
