package services

import (
	"sort"
	"time"

	"raid-system/models"
)

// Promote decides which reserve rows move to main seats for one raid,
// given a snapshot of its participants. It is a pure function: it never
// touches storage and never demotes. If max_mains was lowered below the
// current main count the surplus stays seated; removing mains is an
// explicit owner action.
//
// Ordering: non-alt rows before alt rows, then arrival time, then row id
// so equal timestamps resolve the same way on every run.
//
// While the priority window is open only users in the priority set are
// eligible, even if seats would otherwise go empty. Users in the
// exclusion set never get a seat in either mode. Alt rows additionally
// respect the max_alt_mains sub-quota in both modes.
func Promote(parts []models.Participant, raid *models.Raid, exclude, priority map[string]bool, now time.Time) []models.StateChange {
	mains := 0
	altMains := 0
	for _, p := range parts {
		if p.IsMain {
			mains++
			if p.IsAlt {
				altMains++
			}
		}
	}

	free := raid.MaxMains - mains
	if free <= 0 {
		return nil
	}
	altBudget := raid.MaxAltMains - altMains

	candidates := make([]models.Participant, 0, len(parts))
	for _, p := range parts {
		if p.IsMain || !p.IsReserve {
			continue
		}
		if exclude[p.UserID] {
			continue
		}
		candidates = append(candidates, p)
	}

	if raid.PriorityWindowActive(now) {
		filtered := candidates[:0]
		for _, p := range candidates {
			if priority[p.UserID] {
				filtered = append(filtered, p)
			}
		}
		candidates = filtered
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.IsAlt != b.IsAlt {
			return !a.IsAlt
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.ID < b.ID
	})

	var changes []models.StateChange
	for _, p := range candidates {
		if free <= 0 {
			break
		}
		if p.IsAlt {
			if !raid.AllowAlts || altBudget <= 0 {
				continue
			}
			altBudget--
		}
		free--
		changes = append(changes, models.StateChange{
			ParticipantID: p.ID,
			UserID:        p.UserID,
			IsAlt:         p.IsAlt,
		})
	}
	return changes
}
