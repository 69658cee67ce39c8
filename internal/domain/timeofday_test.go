package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()

	got, err := ParseTimeOfDay(" 22:00 ")
	if err != nil {
		t.Fatalf("ParseTimeOfDay() unexpected error = %v", err)
	}
	if got.Hour != 22 || got.Minute != 0 {
		t.Fatalf("ParseTimeOfDay() = %+v, want 22:00", got)
	}
	if got.String() != "22:00" {
		t.Fatalf("String() = %q, want 22:00", got.String())
	}

	for _, invalid := range []string{"25:00", "8am", "", "22:61"} {
		if _, err := ParseTimeOfDay(invalid); !errors.Is(err, ErrValidation) {
			t.Fatalf("ParseTimeOfDay(%q) error = %v, want ErrValidation", invalid, err)
		}
	}
}

func TestTimeOfDayAt(t *testing.T) {
	t.Parallel()

	ref := time.Date(2026, 7, 15, 23, 30, 12, 0, time.UTC)
	got := TimeOfDay{Hour: 8, Minute: 0}.At(ref)

	want := time.Date(2026, 7, 15, 8, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("At() = %s, want %s", got, want)
	}
}
