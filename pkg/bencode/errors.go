package bencode

import (
	"errors"
	"fmt"
)

// ErrUnsupportedType is returned by Encode when a value is not one of the
// four bencode kinds (integer, byte string, list, dict).
var ErrUnsupportedType = errors.New("bencode: unsupported type")

// ErrTypeMismatch is returned by callers that pull a typed field out of a
// decoded value (map[string]any / []any) and find the wrong Go type or
// length underneath.
var ErrTypeMismatch = errors.New("bencode: type mismatch")

// DecodeError reports a bencode grammar violation at a byte offset into the
// input. For integer and string-length errors, Pos is the offset of the
// first byte of the number; for truncated input or trailing data, it is
// the offset where the missing or extra bytes begin.
type DecodeError struct {
	Pos int
	Msg string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bencode: malformed input at byte %d: %s", e.Pos, e.Msg)
}

func (e *DecodeError) Is(target error) bool {
	return target == errMalformed
}

// errMalformed is the sentinel DecodeError.Is matches against, so callers
// can do errors.Is(err, bencode.ErrMalformed) without caring about position.
var errMalformed = errors.New("bencode: malformed input")

// ErrMalformed is the sentinel for any grammar violation, truncation, or
// unterminated container the decoder reports via *DecodeError.
var ErrMalformed = errMalformed
