package lifecycle

import (
	"regexp"
	"strconv"
	"time"

	"github.com/surplustrust/platform/internal/lead"
)

// DefaultRestrictionMonths is the calendar-month restriction period used
// when configuration does not override it.
const DefaultRestrictionMonths = 6

// Status derives a lead's runtime legal-status band from dates, never
// from a stored column (spec.md §4.6 and §9 — runtime-computed status
// avoids a clock-skew/stale-row class of bug). restrictionMonths is
// calendar-month arithmetic via time.AddDate, not a flat day count.
func Status(l *lead.Lead, now time.Time, restrictionMonths int) lead.RuntimeStatus {
	if l.ClaimDeadline != nil && l.ClaimDeadline.Before(now) {
		return lead.RuntimeExpired
	}
	if l.SaleDate != nil {
		restrictedUntil := l.SaleDate.AddDate(0, restrictionMonths, 0)
		if now.Before(restrictedUntil) {
			return lead.RuntimeRestricted
		}
	}
	return lead.RuntimeActionable
}

// DaysRemaining returns whole days until claim_deadline, or 0 if the
// deadline is absent or already passed.
func DaysRemaining(l *lead.Lead, now time.Time) int {
	if l.ClaimDeadline == nil {
		return 0
	}
	d := l.ClaimDeadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(d.Hours()/24) + 1
}

var dateGlitchPattern = regexp.MustCompile(`^(19|20)\d{2}$|^\d{1,2}[/-]\d{1,2}[/-]\d{2,4}$`)

// Flags runs the BS detector over l. Flags are recorded in the caller's
// PipelineEvent but never auto-quarantine a lead (spec.md §4.6).
func Flags(l *lead.Lead) []lead.BSFlag {
	var flags []lead.BSFlag
	if l.SurplusAmount > 1_000_000 {
		flags = append(flags, lead.FlagWhaleCap)
	}
	if l.SurplusAmount == float64(int64(l.SurplusAmount)) &&
		dateGlitchPattern.MatchString(strconv.FormatInt(int64(l.SurplusAmount), 10)) {
		flags = append(flags, lead.FlagDateGlitch)
	}
	if l.TotalDebt > 0 && l.SurplusAmount > 0.5*l.TotalDebt {
		flags = append(flags, lead.FlagRatioTest)
	}
	return flags
}
