package sweeper

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// cronParser — стандартный пятипольный формат (минуты..день недели).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron разбирает cron-выражение (SWEEP_CRON) в Schedule.
func ParseCron(expr string) (Schedule, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return schedule, nil
}
