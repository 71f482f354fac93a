package pagination

import (
	"errors"
	"testing"
)

func TestLimitsResolve(t *testing.T) {
	limits := Limits{Default: 10, Max: 100}
	tests := []struct {
		in      int
		want    int
		wantErr bool
	}{
		{in: 0, want: 10},
		{in: 1, want: 1},
		{in: 100, want: 100},
		{in: 101, wantErr: true},
		{in: -1, wantErr: true},
	}
	for _, tc := range tests {
		got, err := limits.Resolve(tc.in)
		if tc.wantErr {
			var rangeErr *RangeError
			if !errors.As(err, &rangeErr) {
				t.Fatalf("Resolve(%d) error = %v, want RangeError", tc.in, err)
			}
			if rangeErr.Max != 100 {
				t.Fatalf("RangeError.Max = %d, want 100", rangeErr.Max)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("Resolve(%d) = %d, %v; want %d", tc.in, got, err, tc.want)
		}
	}
}

func TestLimitsResolveWithoutDefault(t *testing.T) {
	got, err := Limits{}.Resolve(0)
	if err != nil || got != 1 {
		t.Fatalf("Resolve(0) = %d, %v; want 1", got, err)
	}
	if got, err := (Limits{}).Resolve(5000); err != nil || got != 5000 {
		t.Fatalf("unbounded Resolve(5000) = %d, %v", got, err)
	}
}
