package memory

import (
	"testing"
	"time"
)

// TestComposeContext verifies section assembly and omission of empty parts.
func TestComposeContext(t *testing.T) {
	tests := []struct {
		name     string
		longTerm string
		today    string
		want     string
	}{
		{
			name:     "both sections",
			longTerm: "user likes pizza",
			today:    "worked on the gateway",
			want:     "## Long-term Memory\nuser likes pizza\n\n## Today's Notes\nworked on the gateway",
		},
		{
			name:     "long term only",
			longTerm: "user likes pizza",
			want:     "## Long-term Memory\nuser likes pizza",
		},
		{
			name:  "today only",
			today: "worked on the gateway",
			want:  "## Today's Notes\nworked on the gateway",
		},
		{
			name: "both empty",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComposeContext(tt.longTerm, tt.today); got != tt.want {
				t.Errorf("ComposeContext(%q, %q) = %q, want %q", tt.longTerm, tt.today, got, tt.want)
			}
		})
	}
}

// TestDayStamp verifies the canonical day key format.
func TestDayStamp(t *testing.T) {
	ts := time.Date(2025, time.March, 7, 15, 4, 5, 0, time.UTC)
	if got := DayStamp(ts); got != "2025-03-07" {
		t.Errorf("DayStamp = %q, want %q", got, "2025-03-07")
	}
	if got := DayHeader("2025-03-07"); got != "# 2025-03-07\n\n" {
		t.Errorf("DayHeader = %q, want %q", got, "# 2025-03-07\n\n")
	}
}
