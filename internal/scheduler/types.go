// Package scheduler implements the scheduled services that keep the switch
// platform moving: the check-switches scan that fires overdue switches, the
// reminder scan that nudges owners approaching their due date, and the
// retention job that enforces data windows.
//
// This file defines the shared types for the task multiplexer. These types
// are used by both the service routing logic and the cmd/switch-scanner
// Lambda handler.
package scheduler

import "time"

// TaskType identifies which service should handle an EventBridge event.
// Each constant maps to a service method in the scanner multiplexer.
type TaskType string

const (
	// TaskCheckSwitches scans for switches past their grace period and
	// triggers them. Scheduled hourly.
	TaskCheckSwitches TaskType = "check_switches"

	// TaskReminderScan scans for switches approaching their due date and
	// sends check-in reminders. Scheduled every 6 hours.
	TaskReminderScan TaskType = "reminder_scan"

	// TaskRetentionCleanup enforces the data retention windows. Daily.
	TaskRetentionCleanup TaskType = "retention_cleanup"
)

// AllTasks returns every task the multiplexer can route, in a stable order.
// Used by the job-runner CLI for --list and input validation.
func AllTasks() []TaskType {
	return []TaskType{TaskCheckSwitches, TaskReminderScan, TaskRetentionCleanup}
}

// TaskPayload is the JSON payload sent by EventBridge to the switch-scanner
// Lambda. It identifies the task to execute and optionally overrides the
// reference time for manual invocation.
//
//	{
//	  "task": "check_switches",
//	  "reference_time": "2026-08-29T14:00:00Z"  // optional
//	}
type TaskPayload struct {
	Task TaskType `json:"task"`

	// ReferenceTime allows manual invocation to specify a different "now"
	// for deterministic execution. If nil, time.Now().UTC() is used.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`

	// Limit caps the number of candidates processed in one invocation,
	// overriding the configured batch size. Zero means use the default.
	Limit int `json:"limit,omitempty"`
}
