// Package safety computes the expiry-based risk banding and statutory
// next-expiry dates that gate every physical cylinder operation. The banding
// is the central safety contract: RED always blocks, ORANGE and YELLOW warn
// but allow, GREEN is silent.
package safety

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cyltrack/pkg/domain"
)

// Band is the safety classification derived from days until charging expiry.
type Band string

// Bands ordered from most to least urgent.
const (
	// BandRed blocks all charging and delivery operations.
	BandRed Band = "red"
	// BandOrange accepts with a warning.
	BandOrange Band = "orange"
	// BandYellow accepts with a notice.
	BandYellow Band = "yellow"
	BandGreen  Band = "green"
	// BandGray means no usable expiry is on record.
	BandGray Band = "gray"
)

// Band descriptions surfaced to operators.
const (
	DescExpired  = "charging expiry passed (blocked)"
	DescImminent = "inspection imminent (blocked)"
	DescWarning  = "inspection required (warning)"
	DescNotice   = "inspection upcoming (notice)"
	DescNormal   = "normal"
	DescUnset    = "no expiry on record"
	DescBadDate  = "unparsable expiry date"
)

// ExpiryStatus reports the banding of a single charging-expiry date.
// DaysRemaining is nil when no usable date is on record.
type ExpiryStatus struct {
	Band            Band   `json:"band"`
	NeedsInspection bool   `json:"needs_inspection"`
	Description     string `json:"description"`
	DaysRemaining   *int   `json:"days_remaining"`
}

// Blocking reports whether the band forbids charging and delivery.
func (s ExpiryStatus) Blocking() bool { return s.Band == BandRed }

// ClassifyExpiry bands a charging-expiry date (YYYY-MM or YYYY-MM-DD)
// against now. Days remaining are counted to the last calendar day of the
// expiry month, matching how statutory deadlines are printed on the
// cylinder collar. The step function has inclusive upper boundaries at
// 10 (red), 20 (orange), and 30 (yellow) days.
func ClassifyExpiry(now time.Time, expiry string) ExpiryStatus {
	if strings.TrimSpace(expiry) == "" {
		return ExpiryStatus{Band: BandGray, Description: DescUnset}
	}
	year, month, ok := parseYearMonth(expiry)
	if !ok {
		return ExpiryStatus{Band: BandGray, Description: DescBadDate}
	}

	today := midnightUTC(now)
	// Day zero of the following month is the last day of the expiry month.
	lastDay := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC)
	// +1 so that a cylinder expiring today still counts one remaining day,
	// and the first day past month-end counts zero.
	d := int(lastDay.Sub(today).Hours()/24) + 1

	st := ExpiryStatus{DaysRemaining: &d}
	switch {
	case d <= 10:
		st.Band = BandRed
		st.NeedsInspection = true
		if d < 0 {
			st.Description = DescExpired
		} else {
			st.Description = DescImminent
		}
	case d <= 20:
		st.Band = BandOrange
		st.NeedsInspection = true
		st.Description = DescWarning
	case d <= 30:
		st.Band = BandYellow
		st.NeedsInspection = true
		st.Description = DescNotice
	default:
		st.Band = BandGreen
		st.Description = DescNormal
	}
	return st
}

// NextExpiryDate computes the statutory next charging-expiry date for a
// cylinder given its manufacture date (YYYY, YYYY-MM, or YYYY-MM-DD) and
// container class, per the KGS renewal table:
//
//	standard (seamless): age ≤ 10y → +5y, age > 10y → +3y
//	cryogenic (LGC):     age < 15y → +5y, 15 ≤ age < 20 → +2y, age ≥ 20 → +1y
//
// Non-cryogenic classes follow the standard table. The result is snapped to
// the last day of the target month and returned as YYYY-MM-DD.
func NextExpiryDate(now time.Time, manufactureDate string, class domain.ContainerClass) string {
	currentYear := now.Year()
	manuYear := currentYear
	if len(manufactureDate) >= 4 {
		if y, err := strconv.Atoi(manufactureDate[:4]); err == nil {
			manuYear = y
		}
	}
	age := currentYear - manuYear

	var addYears int
	if class == domain.ClassCryogenic {
		switch {
		case age < 15:
			addYears = 5
		case age < 20:
			addYears = 2
		default:
			addYears = 1
		}
	} else {
		if age <= 10 {
			addYears = 5
		} else {
			addYears = 3
		}
	}

	target := now.AddDate(addYears, 0, 0)
	lastDay := time.Date(target.Year(), target.Month()+1, 0, 0, 0, 0, 0, time.UTC)
	return lastDay.Format("2006-01-02")
}

// parseYearMonth extracts the year and month from YYYY-MM or YYYY-MM-DD.
func parseYearMonth(s string) (year, month int, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(s), "-", 3)
	if len(parts) < 2 {
		return 0, 0, false
	}
	y, errY := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	if errY != nil || errM != nil || y <= 0 || m < 1 || m > 12 {
		return 0, 0, false
	}
	return y, m, true
}

func midnightUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatYearMonth trims an expiry value to its year-month prefix for
// operator-facing messages.
func FormatYearMonth(expiry string) string {
	if len(expiry) >= 7 {
		return expiry[:7]
	}
	return expiry
}

// String renders the status for log lines.
func (s ExpiryStatus) String() string {
	if s.DaysRemaining == nil {
		return fmt.Sprintf("%s (%s)", s.Band, s.Description)
	}
	return fmt.Sprintf("%s (%s, %dd)", s.Band, s.Description, *s.DaysRemaining)
}
