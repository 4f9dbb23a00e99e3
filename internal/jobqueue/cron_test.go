package jobqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextFireAt(t *testing.T) {
	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		expr     string
		tz       string
		after    time.Time
		expected time.Time
	}{
		{"every minute", "* * * * *", "", base, base.Add(time.Minute)},
		{"mid second truncates", "* * * * *", "", base.Add(1500 * time.Millisecond), base.Add(time.Minute)},
		{"with seconds field", "*/10 * * * * *", "", base, base.Add(10 * time.Second)},
		{"descriptor", "@hourly", "", base.Add(5 * time.Minute), base.Add(time.Hour)},
		{"timezone", "0 9 * * *", "America/New_York", base, time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextFireAt(tt.expr, tt.tz, tt.after)
			require.NoError(t, err)
			assert.Equal(t, tt.expected.Unix(), got)
			assert.Greater(t, got, tt.after.Unix())
		})
	}
}

func TestNextFireAt_Errors(t *testing.T) {
	now := time.Now()

	_, err := NextFireAt("", "", now)
	assert.Error(t, err)

	_, err = NextFireAt("61 * * * *", "", now)
	assert.Error(t, err)

	_, err = NextFireAt("* * * * *", "Not/AZone", now)
	assert.Error(t, err)
}
