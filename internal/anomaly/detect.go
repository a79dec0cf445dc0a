// Package anomaly scans a cylinder's transaction trail for patterns that
// indicate lost paperwork or a skipped physical procedure. Detection is
// advisory: findings never block an operation, they feed reports.
package anomaly

import (
	"sort"
	"time"

	"cyltrack/pkg/domain"
)

// Finding types in priority order. At most one finding is reported per scan.
const (
	// TypeProcedureSkipped means the cylinder is back at the plant without
	// a collection record.
	TypeProcedureSkipped = "procedure_skipped"
	// TypeImplausibleTurnaround means delivery and collection were logged
	// less than ten minutes apart.
	TypeImplausibleTurnaround = "implausible_turnaround"
	// TypeStagnantInventory means an empty cylinder has sat at the plant
	// for over six months with no movement.
	TypeStagnantInventory = "stagnant_inventory"
)

const (
	minTurnaround = 10 * time.Minute
	stagnantAfter = 180 * 24 * time.Hour
)

// Finding describes one detected irregularity.
type Finding struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Detect scans the full transaction log for irregularities around one
// cylinder. Checks run in priority order and the first hit wins; nil means
// the trail looks consistent.
func Detect(c domain.Cylinder, transactions []domain.Transaction, now time.Time) *Finding {
	trail := make([]domain.Transaction, 0, 8)
	for _, t := range transactions {
		if t.CylinderID == c.ID || t.CylinderID == c.SerialNumber {
			trail = append(trail, t)
		}
	}
	if len(trail) < 2 {
		return nil
	}
	sort.Slice(trail, func(i, j int) bool {
		return trail[i].Timestamp.After(trail[j].Timestamp)
	})

	latest, prev := trail[0], trail[1]

	// The cylinder is full or charging, so it is physically at the plant,
	// yet the last record says it left. The collection was never logged.
	if (c.Status == domain.StatusFull || c.Status == domain.StatusCharging) && latest.Type == domain.TxDeliver {
		return &Finding{
			Type:        TypeProcedureSkipped,
			Description: "cylinder returned to the facility without a collection record (last record: deliver)",
		}
	}

	if latest.Type == domain.TxCollect && prev.Type == domain.TxDeliver {
		gap := latest.Timestamp.Sub(prev.Timestamp)
		if gap > 0 && gap < minTurnaround {
			return &Finding{
				Type:        TypeImplausibleTurnaround,
				Description: "delivery and collection logged within ten minutes (likely a data-entry error)",
			}
		}
	}

	if c.Status == domain.StatusEmpty && c.CurrentHolderID == domain.HolderFacility {
		if now.Sub(latest.Timestamp) > stagnantAfter {
			return &Finding{
				Type:        TypeStagnantInventory,
				Description: "empty for over six months with no movement; verify the inspection deadline",
			}
		}
	}

	return nil
}
