package lease

import (
	"errors"
	"testing"
	"time"

	nlerrors "github.com/Meesho/BharatMLStack/node-lease-manager/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeadline(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{raw: "2h", want: baseTime.Add(2 * time.Hour)},
		{raw: "+90m", want: baseTime.Add(90 * time.Minute)},
		{raw: "1d12h", want: baseTime.Add(36 * time.Hour)},
		{raw: "1.5d", want: baseTime.Add(36 * time.Hour)},
		{raw: "1w", want: baseTime.Add(7 * 24 * time.Hour)},
		{raw: "3600s", want: baseTime.Add(time.Hour)},
		{raw: "-1h", want: baseTime.Add(-time.Hour)},
		{raw: "2024-06-02T08:30:00Z", want: time.Date(2024, 6, 2, 8, 30, 0, 0, time.UTC)},
		{raw: "2024-06-02T08:30:00.250+05:30", want: time.Date(2024, 6, 2, 3, 0, 0, 250_000_000, time.UTC)},
		{raw: "2024-06-02T08:30:00+0200", want: time.Date(2024, 6, 2, 6, 30, 0, 0, time.UTC)},
		{raw: "2024-06-02T08:30:00", want: time.Date(2024, 6, 2, 8, 30, 0, 0, time.UTC)},
		{raw: "2024-06-02 08:30:00", want: time.Date(2024, 6, 2, 8, 30, 0, 0, time.UTC)},
		{raw: "2024-06-02T08:30", want: time.Date(2024, 6, 2, 8, 30, 0, 0, time.UTC)},
		{raw: "2024-06-02", want: time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)},
		{raw: "  2h  ", want: baseTime.Add(2 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseDeadline(tt.raw, baseTime)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseDeadlineRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "   ", "tomorrow", "2h later", "2024-13-45", "+", "10"} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseDeadline(raw, baseTime)
			assert.True(t, errors.Is(err, nlerrors.ErrInvalidDeadline))
		})
	}
}
