package shared

import "fmt"

// ReminderSentKey builds the redis key recording that a due-soon reminder for
// the plan was already delivered on the given day (YYYY-MM-DD). Keyed per day
// so a rerun of the daily scan does not double-notify.
func ReminderSentKey(planID int64, day string) string {
	return fmt.Sprintf("payments:plan:%d:reminded:%s", planID, day)
}
