package fingerprint_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/comfortage/dataintegrity/internal/fingerprint"
)

const hexAA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func TestParse_withAndWithoutMarker(t *testing.T) {
	want := fingerprint.MustParse(hexAA)

	for _, raw := range []string{hexAA, "0x" + hexAA, "0X" + strings.ToUpper(hexAA), "  0x" + hexAA + " "} {
		got, err := fingerprint.Parse(raw)
		if err != nil {
			t.Fatalf("Parse(%q): %v", raw, err)
		}
		if got != want {
			t.Errorf("Parse(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestParse_roundTrip(t *testing.T) {
	fp := fingerprint.MustParse("0x" + strings.Repeat("ab", 32))

	again, err := fingerprint.Parse(fp.String())
	if err != nil {
		t.Fatal(err)
	}
	if again != fp {
		t.Errorf("Parse(String()) not identity: %s vs %s", again, fp)
	}
	if !strings.HasPrefix(fp.String(), "0x") {
		t.Errorf("canonical form missing 0x marker: %s", fp)
	}
}

func TestParse_malformed(t *testing.T) {
	cases := []string{
		"",
		"0x",
		hexAA[:62],        // too short
		hexAA + "aa",      // too long
		"0x" + hexAA[:63] + "g", // non-hex char
	}
	for _, raw := range cases {
		if _, err := fingerprint.Parse(raw); !errors.Is(err, fingerprint.ErrMalformed) {
			t.Errorf("Parse(%q): got %v, want ErrMalformed", raw, err)
		}
	}
}

func TestIsZero(t *testing.T) {
	if !fingerprint.Zero.IsZero() {
		t.Error("Zero.IsZero() = false")
	}

	zero, err := fingerprint.Parse("0x" + strings.Repeat("00", 32))
	if err != nil {
		t.Fatal(err)
	}
	if !zero.IsZero() {
		t.Error("parsed all-zero value not flagged as zero")
	}

	almost := fingerprint.MustParse(strings.Repeat("00", 31) + "01")
	if almost.IsZero() {
		t.Error("non-zero value flagged as zero")
	}
}

func TestUnmarshalText(t *testing.T) {
	var fp fingerprint.Fingerprint
	if err := fp.UnmarshalText([]byte("0x" + hexAA)); err != nil {
		t.Fatal(err)
	}
	if fp.String() != "0x"+hexAA {
		t.Errorf("UnmarshalText: got %s", fp)
	}
	if err := fp.UnmarshalText([]byte("nope")); err == nil {
		t.Error("UnmarshalText accepted malformed input")
	}
}
