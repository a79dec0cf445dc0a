// Package lifecycle holds the business-rule guards that gate every physical
// cylinder operation. Each guard is a pure function of the cylinder record
// and the operation's counterparty: it returns a ValidationResult and never
// mutates anything. Rejections are values with machine-readable codes, not
// errors.
package lifecycle

import (
	"fmt"
	"time"

	"cyltrack/internal/safety"
	"cyltrack/pkg/domain"
)

// Validator evaluates operation guards against a clock. The clock is
// injectable so expiry banding is deterministic under test.
type Validator struct {
	now func() time.Time
}

// NewValidator constructs a Validator. A nil clock selects time.Now.
func NewValidator(now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{now: now}
}

func (v *Validator) expiry(c domain.Cylinder) safety.ExpiryStatus {
	return safety.ClassifyExpiry(v.now(), c.ChargingExpiryDate)
}

// ValidateDelivery guards handing a full cylinder to a customer. Order
// matters: terminal status first, then expiry, then location, then status.
func (v *Validator) ValidateDelivery(c domain.Cylinder, customerID string) domain.ValidationResult {
	if c.Status == domain.StatusScrapped {
		return domain.Reject(domain.CodeDiscarded, "scrapped cylinders cannot be delivered")
	}
	if c.Status == domain.StatusDefective {
		return domain.Reject(domain.CodeStatusMismatch, "defective cylinders cannot be delivered")
	}

	insp := v.expiry(c)
	if insp.Blocking() {
		return domain.Reject(domain.CodeExpiryLimit, blockMessage("delivery", c, insp))
	}

	if c.CurrentHolderID != "" && c.CurrentHolderID != domain.HolderFacility {
		if c.CurrentHolderID == customerID {
			return domain.Reject(domain.CodeAlreadyDelivered, "cylinder was already delivered to this counterparty")
		}
		return domain.Reject(domain.CodeLocationMismatch,
			fmt.Sprintf("cylinder is not at the facility (currently at %s)", c.CurrentHolderID))
	}

	if c.Status != domain.StatusFull {
		return domain.Reject(domain.CodeStatusMismatch,
			fmt.Sprintf("cylinder must be full to deliver (currently %s)", c.Status))
	}

	if insp.NeedsInspection {
		return domain.AcceptWithWarning(insp.Description)
	}
	return domain.Accept()
}

// ValidateCollection guards retrieving a cylinder from a customer site.
// Expiry never blocks a collection: getting risky cylinders back is always
// allowed.
func (v *Validator) ValidateCollection(c domain.Cylinder, customerID string) domain.ValidationResult {
	if c.Status == domain.StatusScrapped {
		return domain.Reject(domain.CodeDiscarded, "scrapped cylinders are not tracked for collection")
	}
	if c.CurrentHolderID == domain.HolderFacility {
		return domain.Reject(domain.CodeAlreadyCollected, "cylinder is already at the facility")
	}
	if c.CurrentHolderID != customerID {
		return domain.Reject(domain.CodeLocationMismatch,
			fmt.Sprintf("no delivery to this counterparty on record (currently at %s)", c.CurrentHolderID))
	}
	return domain.Accept()
}

// ValidateChargingStart guards moving an empty cylinder onto the manifold.
func (v *Validator) ValidateChargingStart(c domain.Cylinder) domain.ValidationResult {
	if c.Status == domain.StatusScrapped {
		return domain.Reject(domain.CodeDiscarded, "scrapped cylinders cannot be charged")
	}

	insp := v.expiry(c)
	if insp.Blocking() {
		return domain.Reject(domain.CodeExpiryLimit, blockMessage("charging", c, insp))
	}

	if c.Status != domain.StatusEmpty {
		if c.Status == domain.StatusCharging {
			return domain.Reject(domain.CodeAlreadyCharging, "cylinder is already charging")
		}
		return domain.Reject(domain.CodeStatusMismatch,
			fmt.Sprintf("cylinder must be empty to start charging (currently %s)", c.Status))
	}

	if c.CurrentHolderID != domain.HolderFacility {
		return domain.Reject(domain.CodeLocationMismatch, "cylinder is not at the facility")
	}

	if insp.NeedsInspection {
		return domain.AcceptWithWarning(insp.Description)
	}
	return domain.Accept()
}

// ValidateChargingComplete guards marking a charging cylinder full. The
// expiry is rechecked: a cylinder may cross into the red band while on the
// manifold.
func (v *Validator) ValidateChargingComplete(c domain.Cylinder) domain.ValidationResult {
	if c.Status == domain.StatusScrapped {
		return domain.Reject(domain.CodeDiscarded, "scrapped cylinder")
	}
	if c.Status != domain.StatusCharging {
		return domain.Reject(domain.CodeStatusMismatch,
			fmt.Sprintf("cylinder is not charging (currently %s)", c.Status))
	}
	if insp := v.expiry(c); insp.Blocking() {
		return domain.Reject(domain.CodeExpiryLimit, blockMessage("charging completion", c, insp))
	}
	return domain.Accept()
}

// ValidateInspectionOutbound guards shipping a cylinder to the inspection
// agency. A still-full cylinder is allowed but warned: its gas must be
// vented first.
func (v *Validator) ValidateInspectionOutbound(c domain.Cylinder) domain.ValidationResult {
	if c.Status == domain.StatusScrapped {
		return domain.Reject(domain.CodeDiscarded, "scrapped cylinders cannot be sent for inspection")
	}
	if c.CurrentHolderID != "" && c.CurrentHolderID != domain.HolderFacility {
		return domain.Reject(domain.CodeLocationMismatch,
			fmt.Sprintf("cylinder is not at the facility (currently at %s)", c.CurrentHolderID))
	}
	if c.Status == domain.StatusFull {
		return domain.AcceptWithWarning("cylinder is still full; vent the gas before shipping")
	}
	return domain.Accept()
}

// ValidateInspectionInbound guards receiving a cylinder back from the agency.
// Scrapped is terminal: a condemned cylinder never returns to service.
func (v *Validator) ValidateInspectionInbound(c domain.Cylinder) domain.ValidationResult {
	if c.Status == domain.StatusScrapped {
		return domain.Reject(domain.CodeDiscarded, "scrapped cylinders cannot return to service")
	}
	if c.CurrentHolderID != domain.HolderInspectionAgency {
		return domain.Reject(domain.CodeLocationError, "no outbound inspection shipment on record")
	}
	return domain.Accept()
}

// ValidateInspectionScrap guards condemning a cylinder. Scrapping is allowed
// from the agency or from the facility, so no location check; only an
// already-scrapped cylinder rejects, since the decision was already recorded.
func (v *Validator) ValidateInspectionScrap(c domain.Cylinder) domain.ValidationResult {
	if c.Status == domain.StatusScrapped {
		return domain.Reject(domain.CodeDiscarded, "cylinder is already scrapped")
	}
	return domain.Accept()
}

// ValidateInspectionReinspect guards returning a failed cylinder from the
// agency as defective for repair and re-check.
func (v *Validator) ValidateInspectionReinspect(c domain.Cylinder) domain.ValidationResult {
	if c.Status == domain.StatusScrapped {
		return domain.Reject(domain.CodeDiscarded, "scrapped cylinders cannot be reinspected")
	}
	if c.CurrentHolderID != domain.HolderInspectionAgency {
		return domain.Reject(domain.CodeLocationError, "no outbound inspection shipment on record")
	}
	return domain.Accept()
}

func blockMessage(op string, c domain.Cylinder, insp safety.ExpiryStatus) string {
	short := safety.FormatYearMonth(c.ChargingExpiryDate)
	if insp.DaysRemaining != nil && *insp.DaysRemaining < 0 {
		return fmt.Sprintf("%s blocked: charging expiry has passed (%s)", op, short)
	}
	return fmt.Sprintf("%s blocked: expiry within 10 days (%s)", op, short)
}
