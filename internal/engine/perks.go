package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

// Evaluate reports whether u is eligible for p at now: the perk must be active
// and unexpired and every criterion must hold. All criteria are evaluated.
func Evaluate(u models.User, p models.Perk, now time.Time) bool {
	ok := p.ActiveStatus && !p.ExpiredAt(now)
	for _, c := range p.UnlockCriteria {
		if !EvaluateCriterion(u, c, now) {
			ok = false
		}
	}
	return ok
}

// RefreshAll returns u with one status per catalog perk, in catalog order.
// Missing statuses are created locked; locked perks the user now qualifies for
// become unlocked with a snapshot of the delivery details. Statuses never move
// backwards. Unlocked or redeemed statuses for perks that left the catalog are
// kept after the catalog entries.
func RefreshAll(u models.User, catalog []models.Perk, now time.Time) models.User {
	u = u.Clone()

	existing := make(map[string]models.UserPerkStatus, len(u.UnlockedPerks))
	for _, st := range u.UnlockedPerks {
		existing[st.PerkID] = st
	}

	out := make([]models.UserPerkStatus, 0, len(catalog))
	seen := make(map[string]bool, len(catalog))
	for _, p := range catalog {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true

		st, ok := existing[p.ID]
		if !ok {
			st = models.UserPerkStatus{PerkID: p.ID, Status: models.PerkLocked}
		}
		if st.Status == models.PerkLocked && Evaluate(u, p, now) {
			unlocked := now
			delivery := p.Delivery
			st.Status = models.PerkUnlocked
			st.DateUnlocked = &unlocked
			st.RedemptionInfo = &delivery
		}
		out = append(out, st)
	}

	for _, st := range u.UnlockedPerks {
		if !seen[st.PerkID] && st.Status != models.PerkLocked {
			out = append(out, st)
		}
	}

	u.UnlockedPerks = out
	return u
}

// Claim redeems an unlocked perk. Claiming an already redeemed perk is a
// no-op. MANUAL_EMAIL perks additionally alert the admin mailbox so someone
// can send the benefit by hand.
func (e *Engine) Claim(ctx context.Context, u models.User, perkID string) (models.User, error) {
	i := u.PerkStatus(perkID)
	if i < 0 || u.UnlockedPerks[i].Status == models.PerkLocked {
		return u, fmt.Errorf("%w: %s", ErrPerkLocked, perkID)
	}
	if u.UnlockedPerks[i].Status == models.PerkRedeemed {
		log.Printf("[engine] user %s already redeemed perk %s", u.ID, perkID)
		return u, nil
	}

	perk, err := e.perks.GetPerk(ctx, perkID)
	if err != nil {
		return u, err
	}
	now := e.clock()
	if perk.ExpiredAt(now) {
		return u, fmt.Errorf("%w: %s", ErrPerkExpired, perkID)
	}
	if !perk.ActiveStatus {
		return u, fmt.Errorf("%w: %s", ErrPerkInactive, perkID)
	}

	u = u.Clone()
	st := &u.UnlockedPerks[i]
	delivery := perk.Delivery
	st.Status = models.PerkRedeemed
	st.DateRedeemed = &now
	st.RedemptionInfo = &delivery

	if delivery.Method == models.DeliveryManualEmail {
		log.Printf("[engine] perk %s claimed by %s requires manual delivery", perkID, u.Email)
		e.notify(ctx, models.NotifyPerkManualDelivery, models.AudienceAdmin, e.adminEmail, u.ID, models.JSONB{
			"perk_id": perk.ID, "perk_title": perk.Title, "user_email": u.Email, "instructions": delivery.Instructions,
		})
	}
	return u, nil
}

// PerkProgress describes how close a user is to unlocking a perk.
type PerkProgress struct {
	PerkID   string              `json:"perk_id"`
	Eligible bool                `json:"eligible"`
	Criteria []CriterionStanding `json:"criteria"`
	Message  string              `json:"message"`
}

// Progress reports how close u is to unlocking perk p. A recorded unlocked
// or redeemed status wins over the live criteria, which may have regressed
// since. Otherwise the message lists the unmet criteria only.
func (e *Engine) Progress(ctx context.Context, u models.User, p models.Perk) PerkProgress {
	now := e.clock()
	progress := PerkProgress{
		PerkID:   p.ID,
		Criteria: make([]CriterionStanding, 0, len(p.UnlockCriteria)),
	}

	if i := u.PerkStatus(p.ID); i >= 0 {
		switch u.UnlockedPerks[i].Status {
		case models.PerkUnlocked:
			progress.Eligible = true
			progress.Message = "Perk Unlocked! Ready to Claim."
			return progress
		case models.PerkRedeemed:
			progress.Eligible = true
			progress.Message = "Perk Redeemed."
			return progress
		}
	}
	if !p.ActiveStatus || p.ExpiredAt(now) {
		progress.Message = "This perk is currently unavailable."
		return progress
	}

	var unmet []string
	for _, c := range p.UnlockCriteria {
		name := ""
		if c.Type == models.CriterionSpecificBundleSubscribed {
			name = e.bundleName(ctx, c.BundleID)
		}
		st := Standing(u, c, now, name)
		progress.Criteria = append(progress.Criteria, st)
		if !st.Met {
			unmet = append(unmet, describeStanding(st))
		}
	}

	progress.Eligible = Evaluate(u, p, now)
	switch {
	case progress.Eligible:
		progress.Message = "Perk Unlocked! Ready to Claim."
	case len(unmet) == 0:
		progress.Message = "Check criteria."
	default:
		progress.Message = "To unlock: " + strings.Join(unmet, " AND ")
	}
	return progress
}

func describeStanding(st CriterionStanding) string {
	if st.Criterion.Description != "" {
		return st.Criterion.Description
	}
	if st.Criterion.Type == models.CriterionSpecificBundleSubscribed {
		return st.Unit
	}
	return fmt.Sprintf("%s/%s %s", trimNumber(st.Current), trimNumber(st.Target), st.Unit)
}

func trimNumber(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// PerkStats counts users by their status for one perk. Redeemed users are
// also counted as unlocked.
type PerkStats struct {
	PerkID   string `json:"perk_id"`
	Unlocked int    `json:"unlocked"`
	Redeemed int    `json:"redeemed"`
}

// RedemptionStats aggregates perk statuses across users.
func RedemptionStats(users []models.User, perkID string) PerkStats {
	stats := PerkStats{PerkID: perkID}
	for _, u := range users {
		i := u.PerkStatus(perkID)
		if i < 0 {
			continue
		}
		switch u.UnlockedPerks[i].Status {
		case models.PerkRedeemed:
			stats.Redeemed++
			stats.Unlocked++
		case models.PerkUnlocked:
			stats.Unlocked++
		}
	}
	return stats
}
