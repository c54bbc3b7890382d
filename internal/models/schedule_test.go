package models

import (
	"testing"
	"time"
)

func TestInitialSettlementDate(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "mid-month aims at the current month end",
			now:  time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
			want: time.Date(2026, 8, 31, 23, 59, 0, 0, time.UTC),
		},
		{
			name: "past the month end rolls to next month",
			now:  time.Date(2026, 8, 31, 23, 59, 30, 0, time.UTC),
			want: time.Date(2026, 9, 30, 23, 59, 0, 0, time.UTC),
		},
		{
			name: "december rolls into january",
			now:  time.Date(2026, 12, 31, 23, 59, 30, 0, time.UTC),
			want: time.Date(2027, 1, 31, 23, 59, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InitialSettlementDate(tt.now); !got.Equal(tt.want) {
				t.Errorf("InitialSettlementDate(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestAdvanceSettlementDate(t *testing.T) {
	tests := []struct {
		name string
		prev time.Time
		want time.Time
	}{
		{
			name: "january advances to february's shorter end",
			prev: time.Date(2026, 1, 31, 23, 59, 0, 0, time.UTC),
			want: time.Date(2026, 2, 28, 23, 59, 0, 0, time.UTC),
		},
		{
			name: "leap year february",
			prev: time.Date(2028, 1, 31, 23, 59, 0, 0, time.UTC),
			want: time.Date(2028, 2, 29, 23, 59, 0, 0, time.UTC),
		},
		{
			name: "february recovers to march 31",
			prev: time.Date(2026, 2, 28, 23, 59, 0, 0, time.UTC),
			want: time.Date(2026, 3, 31, 23, 59, 0, 0, time.UTC),
		},
		{
			name: "year rollover",
			prev: time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC),
			want: time.Date(2027, 1, 31, 23, 59, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AdvanceSettlementDate(tt.prev); !got.Equal(tt.want) {
				t.Errorf("AdvanceSettlementDate(%v) = %v, want %v", tt.prev, got, tt.want)
			}
		})
	}
}

func TestNextPeriodStart(t *testing.T) {
	closed := time.Date(2026, 8, 15, 18, 30, 0, 0, time.UTC)
	want := time.Date(2026, 8, 16, 0, 0, 0, 0, time.UTC)
	if got := NextPeriodStart(closed); !got.Equal(want) {
		t.Errorf("NextPeriodStart(%v) = %v, want %v", closed, got, want)
	}
}

func TestPeriodLabel(t *testing.T) {
	ts := time.Date(2026, 8, 31, 23, 59, 0, 0, time.UTC)
	if got := PeriodLabel(ts, false); got != "2026-08" {
		t.Errorf("PeriodLabel(interim) = %q, want 2026-08", got)
	}
	if got := PeriodLabel(ts, true); got != "2026-08-FINAL" {
		t.Errorf("PeriodLabel(final) = %q, want 2026-08-FINAL", got)
	}
}
