package updater

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsNewer(t *testing.T) {
	tests := []struct {
		remote  string
		current string
		want    bool
	}{
		{remote: "1.1", current: "1.0", want: true},
		{remote: "v2.0.0", current: "1.9.9", want: true},
		{remote: "1.0.0", current: "1.0", want: false},
		{remote: "0.9", current: "1.0", want: false},
		{remote: "1.10.0", current: "1.9.0", want: true},
		{remote: "garbage", current: "1.0", want: false},
		{remote: "1.2", current: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.remote+"_vs_"+tt.current, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNewer(tt.remote, tt.current))
		})
	}
}

func TestShouldCheck(t *testing.T) {
	now := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-time.Hour)
	old := now.Add(-25 * time.Hour)

	assert.True(t, ShouldCheck(nil, 24*time.Hour, now))
	assert.False(t, ShouldCheck(&recent, 24*time.Hour, now))
	assert.True(t, ShouldCheck(&old, 24*time.Hour, now))
}
