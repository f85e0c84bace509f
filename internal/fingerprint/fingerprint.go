// Package fingerprint defines the 32-byte content fingerprint used to
// identify the exact bytes of a dataset, together with its canonical
// hex encoding.
//
// The canonical rendering is lowercase hex with a leading "0x" marker.
// Parse accepts input with or without the marker and in either case,
// so Parse(fp.String()) is always the identity.
package fingerprint

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Size is the fingerprint length in bytes.
const Size = 32

// ErrMalformed is returned when the input is not a valid hex encoding of
// exactly Size bytes.
var ErrMalformed = errors.New("malformed fingerprint")

// Fingerprint is a fixed-length content digest.
type Fingerprint [Size]byte

// Zero is the all-zero fingerprint. It is never a legal record value.
var Zero Fingerprint

// Parse decodes a hex string, with or without a leading "0x"/"0X" marker,
// into a Fingerprint. Exactly 64 hex characters must remain after stripping
// the marker.
func Parse(raw string) (Fingerprint, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	if len(s) != Size*2 {
		return Zero, fmt.Errorf("%w: want %d hex chars, got %d", ErrMalformed, Size*2, len(s))
	}

	var fp Fingerprint
	if _, err := hex.Decode(fp[:], []byte(s)); err != nil {
		return Zero, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	return fp, nil
}

// MustParse is Parse that panics on error. For tests and constants only.
func MustParse(raw string) Fingerprint {
	fp, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return fp
}

// IsZero reports whether all bytes of the fingerprint are zero.
func (fp Fingerprint) IsZero() bool {
	return fp == Zero
}

// String returns the canonical rendering: "0x" followed by 64 lowercase
// hex characters.
func (fp Fingerprint) String() string {
	return "0x" + hex.EncodeToString(fp[:])
}

// MarshalText implements encoding.TextMarshaler using the canonical form.
func (fp Fingerprint) MarshalText() ([]byte, error) {
	return []byte(fp.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler via Parse.
func (fp *Fingerprint) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*fp = parsed
	return nil
}
