package records

import (
	"testing"
	"time"
)

func TestAsString(t *testing.T) {
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"abc", "abc"},
		{[]byte("abc"), "abc"},
		{int64(42), "42"},
		{int(7), "7"},
		{float64(59.90), "59.9"},
		{float64(12), "12"},
		{date, "2024-03-15"},
		{true, "true"},
	}
	for _, c := range cases {
		if got := AsString(c.in); got != c.want {
			t.Fatalf("AsString(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestAsStringCrossOrigin(t *testing.T) {
	// A CSV string and a driver integer for the same value must compare equal
	// in canonical form, otherwise dedup and key remapping break.
	if AsString("42") != AsString(int64(42)) {
		t.Fatalf("string and int64 forms differ")
	}
	if AsString("59.9") != AsString(float64(59.90)) {
		t.Fatalf("string and float64 forms differ")
	}
}

func TestAsInt64(t *testing.T) {
	cases := []struct {
		in   any
		want int64
		ok   bool
	}{
		{int64(5), 5, true},
		{int(5), 5, true},
		{float64(5), 5, true},
		{"17", 17, true},
		{[]byte("17"), 17, true},
		{"abc", 0, false},
		{nil, 0, false},
	}
	for _, c := range cases {
		got, ok := AsInt64(c.in)
		if got != c.want || ok != c.ok {
			t.Fatalf("AsInt64(%v) = (%d, %v), want (%d, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestRowClone(t *testing.T) {
	row := Row{
		ID:     RowID{Source: "f.csv", Line: 3},
		Fields: Record{"a": "x"},
	}
	clone := row.Clone()
	clone.Fields["a"] = "y"
	if row.Fields["a"] != "x" {
		t.Fatalf("Clone shares the fields map")
	}
	if clone.ID != row.ID {
		t.Fatalf("Clone lost provenance")
	}
}
