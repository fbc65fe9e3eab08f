package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAddPeriod(t *testing.T) {
	cases := []struct {
		name   string
		from   time.Time
		months int
		want   time.Time
	}{
		{"mid month", time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC), 1, time.Date(2026, 4, 15, 9, 30, 0, 0, time.UTC)},
		{"clamps to february", time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)},
		{"leap year", time.Date(2028, 1, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"year rollover", time.Date(2026, 12, 10, 0, 0, 0, 0, time.UTC), 1, time.Date(2027, 1, 10, 0, 0, 0, 0, time.UTC)},
		{"quarterly", time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC), 3, time.Date(2027, 2, 28, 0, 0, 0, 0, time.UTC)},
		{"non positive defaults to one", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), 0, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AddPeriod(tc.from, tc.months))
		})
	}
}
