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

// Package rangecodec turns key ranges into sortable row keys and back.
//
// A row key is the start section followed by the end section:
//
//	start: 0x00                                 unbounded
//	       0x01 escaped(key) 0x00 0x01 incl      incl: 0x00 inclusive, 0x01 exclusive
//	end:   0x01 escaped(key) 0x00 0x01 incl      incl: 0x00 exclusive, 0x01 inclusive
//	       0x02                                 unbounded
//
// escaped replaces every 0x00 byte with 0x00 0xFF, which keeps bytewise
// order of the encodings identical to the order of the keys. Scanning a
// table keyed by encoded ranges therefore yields ranges left to right.
package rangecodec

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pgedge/tablehash/pkg/types"
)

var ErrMalformed = errors.New("malformed range encoding")

const (
	startUnbounded byte = 0x00
	bounded        byte = 0x01
	endUnbounded   byte = 0x02

	escapeByte  byte = 0x00
	escapedZero byte = 0xFF
	terminator  byte = 0x01

	startInclusive byte = 0x00
	startExclusive byte = 0x01
	endExclusive   byte = 0x00
	endInclusive   byte = 0x01
)

// Encode serialises r. It does not validate r; callers that accept ranges
// from outside should call r.Validate first.
func Encode(r types.KeyRange) []byte {
	buf := make([]byte, 0, len(r.Start)+len(r.End)+8)

	if r.Start == nil {
		buf = append(buf, startUnbounded)
	} else {
		buf = append(buf, bounded)
		buf = appendEscaped(buf, r.Start)
		if r.StartInclusive {
			buf = append(buf, startInclusive)
		} else {
			buf = append(buf, startExclusive)
		}
	}

	if r.End == nil {
		buf = append(buf, endUnbounded)
	} else {
		buf = append(buf, bounded)
		buf = appendEscaped(buf, r.End)
		if r.EndInclusive {
			buf = append(buf, endInclusive)
		} else {
			buf = append(buf, endExclusive)
		}
	}
	return buf
}

func appendEscaped(buf, key []byte) []byte {
	for _, b := range key {
		if b == escapeByte {
			buf = append(buf, escapeByte, escapedZero)
			continue
		}
		buf = append(buf, b)
	}
	return append(buf, escapeByte, terminator)
}

// Decode parses a row key produced by Encode.
func Decode(row []byte) (types.KeyRange, error) {
	var r types.KeyRange
	if len(row) == 0 {
		return r, fmt.Errorf("%w: empty row key", ErrMalformed)
	}

	rest := row
	switch rest[0] {
	case startUnbounded:
		rest = rest[1:]
	case bounded:
		key, incl, tail, err := readBound(rest[1:])
		if err != nil {
			return r, fmt.Errorf("start bound: %w", err)
		}
		switch incl {
		case startInclusive:
			r.StartInclusive = true
		case startExclusive:
		default:
			return r, fmt.Errorf("%w: bad start inclusivity 0x%02x", ErrMalformed, incl)
		}
		r.Start = key
		rest = tail
	default:
		return r, fmt.Errorf("%w: bad start flag 0x%02x", ErrMalformed, rest[0])
	}

	if len(rest) == 0 {
		return r, fmt.Errorf("%w: missing end bound", ErrMalformed)
	}
	switch rest[0] {
	case endUnbounded:
		rest = rest[1:]
	case bounded:
		key, incl, tail, err := readBound(rest[1:])
		if err != nil {
			return r, fmt.Errorf("end bound: %w", err)
		}
		switch incl {
		case endInclusive:
			r.EndInclusive = true
		case endExclusive:
		default:
			return r, fmt.Errorf("%w: bad end inclusivity 0x%02x", ErrMalformed, incl)
		}
		r.End = key
		rest = tail
	default:
		return r, fmt.Errorf("%w: bad end flag 0x%02x", ErrMalformed, rest[0])
	}

	if len(rest) != 0 {
		return r, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(rest))
	}
	if err := r.Validate(); err != nil {
		return r, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return r, nil
}

// readBound unescapes a key up to its terminator and returns the
// inclusivity byte that follows it.
func readBound(b []byte) (key []byte, incl byte, rest []byte, err error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != escapeByte {
			out = append(out, b[i])
			continue
		}
		if i+1 >= len(b) {
			return nil, 0, nil, fmt.Errorf("%w: truncated escape", ErrMalformed)
		}
		switch b[i+1] {
		case escapedZero:
			out = append(out, escapeByte)
			i++
		case terminator:
			if i+2 >= len(b) {
				return nil, 0, nil, fmt.Errorf("%w: missing inclusivity byte", ErrMalformed)
			}
			return out, b[i+2], b[i+3:], nil
		default:
			return nil, 0, nil, fmt.Errorf("%w: bad escape 0x%02x", ErrMalformed, b[i+1])
		}
	}
	return nil, 0, nil, fmt.Errorf("%w: unterminated key", ErrMalformed)
}

// Less reports whether the row key of a sorts before that of b.
func Less(a, b types.KeyRange) bool {
	return bytes.Compare(Encode(a), Encode(b)) < 0
}
