package booking

import (
	"errors"
	"testing"
	"time"
)

func TestComputeWindow(t *testing.T) {
	loc := time.UTC

	w, err := ComputeWindow("2024-01-01", "10:00", "10:30", loc)
	if err != nil {
		t.Fatal(err)
	}
	wantStart := time.Date(2024, 1, 1, 10, 0, 0, 0, loc)
	wantEnd := time.Date(2024, 1, 1, 10, 30, 0, 0, loc)
	if !w.Start.Equal(wantStart) || !w.End.Equal(wantEnd) {
		t.Fatalf("window = %v..%v, want %v..%v", w.Start, w.End, wantStart, wantEnd)
	}

	t.Run("rfc3339 date keeps only the day", func(t *testing.T) {
		w2, err := ComputeWindow("2024-01-01T18:45:00Z", "10:00", "10:30", loc)
		if err != nil {
			t.Fatal(err)
		}
		if !w2.Start.Equal(wantStart) {
			t.Fatalf("start = %v, want %v", w2.Start, wantStart)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		for _, args := range [][3]string{
			{"", "10:00", "10:30"},
			{"2024-01-01", "", "10:30"},
			{"2024-01-01", "10:00", ""},
		} {
			if _, err := ComputeWindow(args[0], args[1], args[2], loc); !errors.Is(err, ErrIncomplete) {
				t.Fatalf("ComputeWindow(%q,%q,%q) err = %v, want ErrIncomplete", args[0], args[1], args[2], err)
			}
		}
	})

	t.Run("empty window rejected", func(t *testing.T) {
		if _, err := ComputeWindow("2024-01-01", "10:30", "10:00", loc); err == nil {
			t.Fatal("inverted window accepted")
		}
		if _, err := ComputeWindow("2024-01-01", "10:00", "10:00", loc); err == nil {
			t.Fatal("zero-length window accepted")
		}
	})

	t.Run("bad time strings", func(t *testing.T) {
		for _, bad := range []string{"10", "25:00", "10:61", "aa:bb"} {
			if _, err := ComputeWindow("2024-01-01", bad, "10:30", loc); err == nil {
				t.Fatalf("fromTime %q accepted", bad)
			}
		}
	})
}

func TestWindowValidate(t *testing.T) {
	loc := time.UTC
	w, err := ComputeWindow("2024-01-01", "10:00", "10:30", loc)
	if err != nil {
		t.Fatal(err)
	}

	at := func(hh, mm int) time.Time { return time.Date(2024, 1, 1, hh, mm, 0, 0, loc) }

	if err := w.Validate(at(9, 59)); !errors.Is(err, ErrTooEarly) {
		t.Fatalf("09:59 err = %v, want ErrTooEarly", err)
	}
	if err := w.Validate(at(10, 31)); !errors.Is(err, ErrExpired) {
		t.Fatalf("10:31 err = %v, want ErrExpired", err)
	}
	if err := w.Validate(at(10, 15)); err != nil {
		t.Fatalf("10:15 err = %v, want nil", err)
	}
	// Boundary instants are inside the window.
	if err := w.Validate(w.Start); err != nil {
		t.Fatalf("start err = %v", err)
	}
	if err := w.Validate(w.End); err != nil {
		t.Fatalf("end err = %v", err)
	}
}

func TestWindowRemaining(t *testing.T) {
	loc := time.UTC
	w, _ := ComputeWindow("2024-01-01", "10:00", "10:30", loc)

	if got := w.Remaining(time.Date(2024, 1, 1, 10, 15, 0, 0, loc)); got != 900 {
		t.Fatalf("remaining at 10:15 = %d, want 900", got)
	}
	// Floored, not rounded.
	if got := w.Remaining(time.Date(2024, 1, 1, 10, 29, 59, 500_000_000, loc)); got != 0 {
		t.Fatalf("remaining at 10:29:59.5 = %d, want 0", got)
	}
	if got := w.Remaining(time.Date(2024, 1, 1, 10, 31, 0, 0, loc)); got >= 0 {
		t.Fatalf("remaining past end = %d, want negative", got)
	}
}

func TestParseTimeRange(t *testing.T) {
	from, to, err := ParseTimeRange("10:00 - 10:30")
	if err != nil || from != "10:00" || to != "10:30" {
		t.Fatalf("got %q %q %v", from, to, err)
	}
	if _, _, err := ParseTimeRange("10:00"); err == nil {
		t.Fatal("missing separator accepted")
	}
}
