// Package scheduler triggers named jobs on cron or interval schedules.
//
// Each job runs on the cron goroutine with a per-run timeout. A trigger that
// fires while the previous run of the same job is still in flight is skipped,
// so a slow reminder tick never overlaps the next one.
package scheduler
