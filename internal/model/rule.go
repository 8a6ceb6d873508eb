package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// RuleKind identifies which reminder algorithm a rule drives.
type RuleKind string

const (
	// RuleUserReminder fires repeated reminders while a ticket stays pending.
	RuleUserReminder RuleKind = "user_reminder"
	// RuleAgencyVisit fires a single heads-up before a scheduled agency visit.
	RuleAgencyVisit RuleKind = "agency_visit"
)

var (
	ErrRuleMissingTarget   = errors.New("rule has no target reference")
	ErrRuleBadInterval     = errors.New("rule reminder interval must be positive")
	ErrRuleBadLeadTime     = errors.New("rule lead time must be positive")
	ErrRuleBadMaxReminders = errors.New("rule max reminders must be positive")
	ErrRuleUnknownKind     = errors.New("unknown rule kind")
)

// NotificationRule is the admin-managed configuration read by the scheduler.
// Rules are created and edited elsewhere; the engine treats them as read-only.
type NotificationRule struct {
	ID               uuid.UUID     `json:"id"`
	Kind             RuleKind      `json:"kind"`
	TargetRef        string        `json:"target_ref"`        // recipient: telegram chat id or agency email
	Channel          string        `json:"channel"`           // delivery channel, e.g. "telegram", "email"
	ScopeIDs         []uuid.UUID   `json:"scope_ids"`         // sub-categories the rule covers; empty = all
	LeadTime         time.Duration `json:"lead_time"`         // agency_visit: first reminder fires this long before the visit
	ReminderInterval time.Duration `json:"reminder_interval"` // user_reminder: gap between successive reminders
	MaxReminders     int           `json:"max_reminders"`
	Active           bool          `json:"active"`
}

// Validate reports the first configuration defect of the rule. Invalid rules
// are skipped by the scheduler, never fatal for a run.
func (r NotificationRule) Validate() error {
	if r.TargetRef == "" {
		return ErrRuleMissingTarget
	}
	if r.MaxReminders <= 0 {
		return ErrRuleBadMaxReminders
	}

	switch r.Kind {
	case RuleUserReminder:
		if r.ReminderInterval <= 0 {
			return ErrRuleBadInterval
		}
	case RuleAgencyVisit:
		if r.LeadTime <= 0 {
			return ErrRuleBadLeadTime
		}
	default:
		return ErrRuleUnknownKind
	}

	return nil
}

// InScope reports whether the rule applies to the given sub-category.
func (r NotificationRule) InScope(subCategoryID uuid.UUID) bool {
	if len(r.ScopeIDs) == 0 {
		return true
	}

	for _, id := range r.ScopeIDs {
		if id == subCategoryID {
			return true
		}
	}

	return false
}
