package schedule

import (
	"fmt"
	"time"

	"github.com/JakeFAU/site-mirror/internal/mirror"
)

// MirrorSpec converts an operator's HH:MM time and frequency into a cron
// spec. Weekly mirrors repeat on the weekday of the first occurrence after
// now: today when the time is still ahead, otherwise tomorrow.
func MirrorSpec(hhmm, frequency string, now time.Time) (string, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return "", fmt.Errorf("invalid schedule time %q: %w", hhmm, err)
	}
	switch frequency {
	case mirror.FrequencyDaily, "":
		return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
	case mirror.FrequencyWeekly:
		first := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
		if !first.After(now) {
			first = first.AddDate(0, 0, 1)
		}
		return fmt.Sprintf("%d %d * * %d", t.Minute(), t.Hour(), int(first.Weekday())), nil
	default:
		return "", fmt.Errorf("unknown schedule frequency %q", frequency)
	}
}
