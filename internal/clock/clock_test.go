package clock

import (
	"errors"
	"testing"
	"time"

	"fincal/internal/core"
)

func TestTodayUsesUserZone(t *testing.T) {
	// 2024-03-01 02:00 UTC is still Feb 29 in New York.
	c := At(2024, 3, 1, 2)
	cases := []struct {
		tz   string
		want core.Date
	}{
		{"", core.NewDate(2024, 3, 1)},
		{"UTC", core.NewDate(2024, 3, 1)},
		{"America/New_York", core.NewDate(2024, 2, 29)},
		{"Asia/Tokyo", core.NewDate(2024, 3, 1)},
	}
	for _, tc := range cases {
		got, err := Today(c, tc.tz)
		if err != nil {
			t.Fatalf("%q: %v", tc.tz, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("%q: expected %s, got %s", tc.tz, tc.want, got)
		}
	}
}

func TestUnknownZone(t *testing.T) {
	if _, err := Today(System{}, "Mars/Olympus"); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestZonesFallback(t *testing.T) {
	z := NewZones("America/New_York", 4, time.Hour)
	got, err := z.Today(At(2024, 3, 1, 2), "")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(core.NewDate(2024, 2, 29)) {
		t.Fatalf("expected fallback zone, got %s", got)
	}
}
