package scheduler

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fixtrack/notifier/internal/model"
)

// Select computes every notification due at the given instant. It is a pure
// function of its inputs: no I/O, no mutation, fully deterministic, which is
// what makes the due logic testable without a store.
//
// Rules must already be validated; Select assumes active, well-formed rules.
func Select(now time.Time, rules []model.NotificationRule, tickets []model.TicketSnapshot) []model.DueNotification {
	var due []model.DueNotification

	// Append positions are claimed here so that several rules firing on the
	// same ticket in one pass get distinct, consecutive log positions.
	nextSeq := make(map[uuid.UUID]int)
	claimSeq := func(t model.TicketSnapshot) int {
		seq, ok := nextSeq[t.ID]
		if !ok {
			seq = len(t.ReminderLog) + 1
		}
		nextSeq[t.ID] = seq + 1

		return seq
	}

	for _, rule := range rules {
		if !rule.Active {
			continue
		}

		for _, t := range tickets {
			if !rule.InScope(t.SubCategoryID) {
				continue
			}

			switch rule.Kind {
			case model.RuleUserReminder:
				if item, ok := userReminderDue(now, rule, t); ok {
					item.Seq = claimSeq(t)
					due = append(due, item)
				}
			case model.RuleAgencyVisit:
				if item, ok := agencyVisitDue(now, rule, t); ok {
					item.Seq = claimSeq(t)
					due = append(due, item)
				}
			}
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if !due[i].FireAt.Equal(due[j].FireAt) {
			return due[i].FireAt.Before(due[j].FireAt)
		}

		return bytes.Compare(due[i].TicketID[:], due[j].TicketID[:]) < 0
	})

	return due
}

// userReminderDue decides whether the next pending-ticket reminder is due.
// The k-th reminder fires once elapsed >= k*interval and exactly k-1 effective
// entries exist for the rule. Reminders fire strictly in order: a long gap
// between runs produces the next reminder late, never two at once.
func userReminderDue(now time.Time, rule model.NotificationRule, t model.TicketSnapshot) (model.DueNotification, bool) {
	if t.Status != model.StatusPending {
		return model.DueNotification{}, false
	}

	k := len(t.EffectiveEntriesForRule(rule.ID)) + 1
	if k > rule.MaxReminders {
		return model.DueNotification{}, false
	}

	fireAt := t.LastStatusChangeAt.Add(time.Duration(k) * rule.ReminderInterval)
	if now.Before(fireAt) {
		return model.DueNotification{}, false
	}

	return model.DueNotification{
		TicketID:     t.ID,
		TicketTitle:  t.Title,
		Rule:         rule,
		RecipientRef: rule.TargetRef,
		FireAt:       fireAt,
		Attempt:      k,
	}, true
}

// agencyVisitDue decides whether the single pre-visit reminder is due. It
// fires at most once inside [visitAt-leadTime, visitAt): never before the
// window opens, never after the visit time, and never twice for the same
// window.
func agencyVisitDue(now time.Time, rule model.NotificationRule, t model.TicketSnapshot) (model.DueNotification, bool) {
	if t.AgencyVisitAt == nil {
		return model.DueNotification{}, false
	}

	visitAt := *t.AgencyVisitAt
	windowStart := visitAt.Add(-rule.LeadTime)

	if now.Before(windowStart) || !now.Before(visitAt) {
		return model.DueNotification{}, false
	}

	for _, e := range t.EffectiveEntriesForRule(rule.ID) {
		if !e.SentAt.Before(windowStart) && e.SentAt.Before(visitAt) {
			return model.DueNotification{}, false
		}
	}

	return model.DueNotification{
		TicketID:     t.ID,
		TicketTitle:  t.Title,
		Rule:         rule,
		RecipientRef: rule.TargetRef,
		FireAt:       windowStart,
		Attempt:      1,
		VisitAt:      &visitAt,
	}, true
}
