package telemetry

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// scheduleParser accepts 5-field cron expressions and descriptors such as
// "@every 5s" or "@daily".
var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether spec parses.
func ValidateSchedule(spec string) error {
	if _, err := scheduleParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// newScheduler returns a cron runner that recovers panicking jobs and
// skips a run while the previous one is still going.
func newScheduler(component string) *cron.Cron {
	logger := cron.PrintfLogger(log.New(log.Writer(), "["+component+"] ", log.Flags()))
	return cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLogger(cron.DiscardLogger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
}
