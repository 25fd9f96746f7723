// Package lifecycle implements the pure state transition rules for switches
// and their messages. Functions here never touch storage or the network:
// they validate a transition against the current in-memory state and either
// mutate the entity or return an AppError explaining the rejection. Version
// increments happen in the repository layer as part of the compare-and-swap
// write, so a rejected transition leaves the entity untouched.
//
// Boundary convention: every expiry comparison is a strict `after`. A switch
// whose grace period ends at exactly T is not yet triggerable at T.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"lifeline/internal/types"
)

// NewSwitch creates a switch in the active state with the countdown started
// from now. The first check-in deadline is now + interval.
func NewSwitch(ownerID, name, description string, intervalDays, graceDays int, now time.Time) (*types.Switch, error) {
	if ownerID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "owner id is required", nil)
	}
	if name == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "name is required", nil)
	}
	if err := types.ValidateTimingConfig(intervalDays, graceDays); err != nil {
		return nil, err
	}

	s := &types.Switch{
		ID:                  uuid.NewString(),
		OwnerID:             ownerID,
		Name:                name,
		Description:         description,
		CheckInIntervalDays: intervalDays,
		GracePeriodDays:     graceDays,
		Status:              types.SwitchStatusActive,
		LastCheckIn:         now,
		CreatedAt:           now,
		UpdatedAt:           now,
		Version:             1,
	}
	s.NextCheckInDue = now.Add(s.CheckInInterval())
	return s, nil
}

// CheckIn records a proof of life. Allowed from active or paused (a paused
// switch resumes monitoring on check-in); rejected on terminal or deleted
// switches. The deadline is recomputed from now, not from the previous due
// date, so a late check-in does not shorten the next window.
func CheckIn(s *types.Switch, now time.Time) error {
	if s.DeletedAt != nil {
		return invalidState(s, "check_in", "switch is deleted")
	}
	if s.Status.Terminal() {
		return invalidState(s, "check_in", fmt.Sprintf("switch is %s", s.Status))
	}

	s.LastCheckIn = now
	s.NextCheckInDue = now.Add(s.CheckInInterval())
	s.Status = types.SwitchStatusActive
	s.UpdatedAt = now
	return nil
}

// Pause suspends monitoring. A paused switch never triggers, regardless of
// how far past due it is.
func Pause(s *types.Switch, now time.Time) error {
	if s.DeletedAt != nil {
		return invalidState(s, "pause", "switch is deleted")
	}
	if s.Status.Terminal() {
		return invalidState(s, "pause", fmt.Sprintf("switch is %s", s.Status))
	}
	if s.Status == types.SwitchStatusPaused {
		return invalidState(s, "pause", "switch is already paused")
	}

	s.Status = types.SwitchStatusPaused
	s.UpdatedAt = now
	return nil
}

// Activate resumes monitoring on a paused switch. The check-in deadline is
// left where it was; owners who want a fresh window check in instead.
func Activate(s *types.Switch, now time.Time) error {
	if s.DeletedAt != nil {
		return invalidState(s, "activate", "switch is deleted")
	}
	if s.Status.Terminal() {
		return invalidState(s, "activate", fmt.Sprintf("switch is %s", s.Status))
	}
	if s.Status == types.SwitchStatusActive {
		return invalidState(s, "activate", "switch is already active")
	}

	s.Status = types.SwitchStatusActive
	s.UpdatedAt = now
	return nil
}

// IsPastDue reports whether now is strictly after the check-in deadline.
func IsPastDue(s *types.Switch, now time.Time) bool {
	return now.After(s.NextCheckInDue)
}

// IsGracePeriodExpired reports whether now is strictly after the deadline
// plus the grace period.
func IsGracePeriodExpired(s *types.Switch, now time.Time) bool {
	return now.After(s.NextCheckInDue.Add(s.GracePeriod()))
}

// ShouldTrigger reports whether the switch is eligible to fire: actively
// monitoring and strictly past the end of its grace period. Paused, terminal
// and deleted switches are never eligible.
func ShouldTrigger(s *types.Switch, now time.Time) bool {
	return s.IsMonitoring() && IsGracePeriodExpired(s, now)
}

// Trigger performs the irreversible transition releasing the switch's
// messages. Only legal when ShouldTrigger holds; everything else is an
// invalid_state rejection, including a repeated trigger.
func Trigger(s *types.Switch, now time.Time) error {
	if s.Status == types.SwitchStatusTriggered {
		return invalidState(s, "trigger", "switch is already triggered")
	}
	if !ShouldTrigger(s, now) {
		return invalidState(s, "trigger", "switch is not eligible to trigger")
	}

	triggeredAt := now
	s.Status = types.SwitchStatusTriggered
	s.TriggeredAt = &triggeredAt
	s.UpdatedAt = now
	return nil
}

// Expire is the administrative terminal transition for abandoned switches.
// Unlike Trigger it does not release messages.
func Expire(s *types.Switch, now time.Time) error {
	if s.Status.Terminal() {
		return invalidState(s, "expire", fmt.Sprintf("switch is %s", s.Status))
	}

	s.Status = types.SwitchStatusExpired
	s.UpdatedAt = now
	return nil
}

// UpdateConfiguration applies the mutable fields. Rejected outright on
// terminal switches. When the interval changes the deadline is recomputed
// from the last check-in, so a shorter interval can make a switch
// immediately past due.
func UpdateConfiguration(s *types.Switch, upd types.SwitchConfigUpdate, now time.Time) error {
	if s.DeletedAt != nil {
		return invalidState(s, "update_configuration", "switch is deleted")
	}
	if s.Status.Terminal() {
		return invalidState(s, "update_configuration", fmt.Sprintf("switch is %s", s.Status))
	}

	intervalDays := s.CheckInIntervalDays
	if upd.CheckInIntervalDays != nil {
		intervalDays = *upd.CheckInIntervalDays
	}
	graceDays := s.GracePeriodDays
	if upd.GracePeriodDays != nil {
		graceDays = *upd.GracePeriodDays
	}
	if err := types.ValidateTimingConfig(intervalDays, graceDays); err != nil {
		return err
	}
	if upd.Name != nil && *upd.Name == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "name is required", nil)
	}

	if upd.Name != nil {
		s.Name = *upd.Name
	}
	if upd.Description != nil {
		s.Description = *upd.Description
	}
	if intervalDays != s.CheckInIntervalDays {
		s.CheckInIntervalDays = intervalDays
		s.NextCheckInDue = s.LastCheckIn.Add(s.CheckInInterval())
	}
	s.GracePeriodDays = graceDays
	s.UpdatedAt = now
	return nil
}

// SoftDelete marks the switch deleted. Idempotent: deleting an already
// deleted switch is a no-op. The row survives until the retention job
// hard-deletes it after its window.
func SoftDelete(s *types.Switch, now time.Time) {
	if s.DeletedAt != nil {
		return
	}
	deletedAt := now
	s.DeletedAt = &deletedAt
	s.UpdatedAt = now
}

// ElapsedFraction returns the share of the check-in interval consumed since
// the last check-in, as plain division. Values above 1 mean past due. Used
// by the reminder scanner's threshold comparison, which is inclusive (>=).
func ElapsedFraction(s *types.Switch, now time.Time) float64 {
	interval := s.CheckInInterval()
	if interval <= 0 {
		return 0
	}
	return float64(now.Sub(s.LastCheckIn)) / float64(interval)
}

func invalidState(s *types.Switch, op, reason string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeInvalidState,
		fmt.Sprintf("%s rejected: %s", op, reason), nil,
		map[string]any{"switch_id": s.ID, "status": string(s.Status)})
}
