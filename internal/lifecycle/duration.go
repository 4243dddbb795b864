package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/cleanops/pkg/models"
)

// Duration prefers actual time on site and falls back to the planned window.
// It reports false when neither is known.
func Duration(job *models.Job) (time.Duration, bool) {
	if job.CheckInAt != nil && job.CheckOutAt != nil {
		d := job.CheckOutAt.Sub(*job.CheckInAt)
		if d < 0 {
			d = 0
		}
		return d, true
	}

	if job.StartTime == nil || job.EndTime == nil {
		return 0, false
	}
	start, err1 := parseClock(*job.StartTime)
	end, err2 := parseClock(*job.EndTime)
	if err1 != nil || err2 != nil || end < start {
		return 0, false
	}
	return end - start, true
}

// FormatDuration renders whole hours and minutes: "2h 10m", "2h", "5m", "0m".
func FormatDuration(d time.Duration) string {
	total := int(d / time.Minute)
	h, m := total/60, total%60

	var parts []string
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 || h == 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	return strings.Join(parts, " ")
}

// parseClock reads "HH:MM" or "HH:MM:SS" as an offset from midnight.
func parseClock(s string) (time.Duration, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}
