package util

import (
	"fmt"
	"testing"
)

func TestRingBufferWrapAround(t *testing.T) {
	r := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	got := r.Snapshot()
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("Snapshot len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Snapshot = %v, want %v", got, want)
		}
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
}

func TestRingBufferReplaceKeepsPosition(t *testing.T) {
	r := NewRingBuffer[string](4)
	r.Push("a")
	r.Push("b")
	r.Push("c")

	if !r.Replace(func(s string) bool { return s == "b" }, "B") {
		t.Fatal("Replace did not find element")
	}
	got := r.Snapshot()
	if got[0] != "a" || got[1] != "B" || got[2] != "c" {
		t.Fatalf("Snapshot = %v", got)
	}
	if r.Replace(func(s string) bool { return s == "zz" }, "x") {
		t.Fatal("Replace matched a missing element")
	}
}

func TestRingBufferReset(t *testing.T) {
	r := NewRingBuffer[int](2)
	r.Push(1)
	r.Push(2)
	r.Reset()
	if r.Len() != 0 {
		t.Fatalf("Len after Reset = %d", r.Len())
	}
	r.Push(7)
	if got := r.Snapshot(); len(got) != 1 || got[0] != 7 {
		t.Fatalf("Snapshot after Reset = %v", got)
	}
}

func TestFormatClock(t *testing.T) {
	cases := []struct {
		sec  int
		want string
	}{
		{0, "0:00"},
		{5, "0:05"},
		{65, "1:05"},
		{600, "10:00"},
		{-3, "0:00"},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.sec), func(t *testing.T) {
			if got := FormatClock(tc.sec); got != tc.want {
				t.Fatalf("FormatClock(%d) = %q, want %q", tc.sec, got, tc.want)
			}
		})
	}
	if got := FormatCountdown(65); got != "01:05" {
		t.Fatalf("FormatCountdown(65) = %q", got)
	}
}
