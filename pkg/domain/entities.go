// Package domain defines the core persistent entities, value types, and
// validation primitives used by cyltrack.
package domain

import "time"

// EntityKind identifies the type of record stored in the core collections.
type EntityKind string

// Supported entity kind identifiers used in healing reports and persistence buckets.
const (
	// KindCylinder identifies a tracked gas cylinder record.
	KindCylinder EntityKind = "cylinder"
	// KindCustomer identifies a counterparty record.
	KindCustomer EntityKind = "customer"
	// KindTransaction identifies an immutable lifecycle log entry.
	KindTransaction EntityKind = "transaction"
)

// CylinderStatus represents the canonical physical lifecycle states of a cylinder.
type CylinderStatus string

// Canonical cylinder statuses. Unknown inbound values are clamped to
// StatusEmpty during sanitization.
const (
	// StatusEmpty indicates a discharged cylinder awaiting charging.
	StatusEmpty CylinderStatus = "empty"
	// StatusCharging indicates the cylinder is on the charging manifold.
	StatusCharging CylinderStatus = "charging"
	// StatusFull indicates a charged cylinder ready for delivery.
	StatusFull      CylinderStatus = "full"
	StatusDelivered CylinderStatus = "delivered"
	StatusDefective CylinderStatus = "defective"
	StatusLost      CylinderStatus = "lost"
	// StatusInspectionDue marks a cylinder flagged for periodic reinspection.
	StatusInspectionDue CylinderStatus = "inspection_due"
	StatusInInspection  CylinderStatus = "in_inspection"
	// StatusScrapped is terminal; every operation except read rejects it.
	StatusScrapped CylinderStatus = "scrapped"
)

// ValidStatuses enumerates every accepted cylinder status value.
var ValidStatuses = []CylinderStatus{
	StatusEmpty, StatusCharging, StatusFull, StatusDelivered, StatusDefective,
	StatusLost, StatusInspectionDue, StatusInInspection, StatusScrapped,
}

// ContainerClass categorizes the physical container construction, which
// determines the statutory reinspection interval.
type ContainerClass string

// Canonical container classes.
const (
	// ClassStandard is a seamless high-pressure cylinder.
	ClassStandard ContainerClass = "standard"
	// ClassSiphon is a siphon-tube cylinder for liquid withdrawal.
	ClassSiphon ContainerClass = "siphon"
	// ClassCryogenic is a liquefied-gas container (LGC).
	ClassCryogenic ContainerClass = "cryogenic"
	// ClassRack is a bundle of cylinders tracked as one unit.
	ClassRack ContainerClass = "rack"
)

// Holder markers distinguishing the operator's own locations from customers.
const (
	// HolderFacility marks a cylinder physically present at the operator's plant.
	HolderFacility = "FACILITY"
	// HolderInspectionAgency marks a cylinder shipped out for statutory inspection.
	HolderInspectionAgency = "INSPECTION_AGENCY"
)

// Cylinder represents an individual tracked gas container. A rack container
// represents several physical cylinders as one unit via BundleCount and
// ChildSerials.
type Cylinder struct {
	ID           string         `json:"id"`
	SerialNumber string         `json:"serial_number"`
	GasType      string         `json:"gas_type"`
	Capacity     string         `json:"capacity"`
	Class        ContainerClass `json:"container_class"`
	Status       CylinderStatus `json:"status"`

	// CurrentHolderID is the physical location: HolderFacility, a customer
	// id, or HolderInspectionAgency.
	CurrentHolderID string `json:"current_holder_id"`
	Owner           string `json:"owner"`

	// ChargingExpiryDate has year-month granularity (YYYY-MM or YYYY-MM-DD);
	// banding counts days to the last calendar day of that month.
	ChargingExpiryDate string `json:"charging_expiry_date"`
	LastInspectionDate string `json:"last_inspection_date"`
	ManufactureDate    string `json:"manufacture_date"`

	BundleCount  int      `json:"bundle_count,omitempty"`
	ChildSerials []string `json:"child_serials,omitempty"`
	ParentRackID string   `json:"parent_rack_id,omitempty"`

	Memo      string    `json:"memo,omitempty"`
	IsDeleted bool      `json:"is_deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to hand outside the store.
func (c Cylinder) Clone() Cylinder {
	cp := c
	cp.ChildSerials = append([]string(nil), c.ChildSerials...)
	return cp
}

// CustomerKind classifies counterparties for invoicing purposes.
type CustomerKind string

// Canonical customer kinds.
const (
	CustomerBusiness   CustomerKind = "business"
	CustomerIndividual CustomerKind = "individual"
)

// Customer represents a counterparty holding delivered cylinders.
type Customer struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Kind           CustomerKind `json:"kind"`
	PaymentType    string       `json:"payment_type"`
	BusinessNumber string       `json:"business_number,omitempty"`
	LedgerNumber   string       `json:"ledger_number,omitempty"`
	CorporateID    string       `json:"corporate_id,omitempty"`
	Representative string       `json:"representative,omitempty"`
	Phone          string       `json:"phone,omitempty"`
	Fax            string       `json:"fax,omitempty"`
	Address        string       `json:"address,omitempty"`

	// Balance is a legacy accounting carry-over; not authoritative here.
	Balance int64 `json:"balance"`

	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Clone returns a deep copy safe to hand outside the store.
func (c Customer) Clone() Customer {
	cp := c
	if c.DeletedAt != nil {
		at := *c.DeletedAt
		cp.DeletedAt = &at
	}
	return cp
}

// TransactionType enumerates the recorded lifecycle operations.
type TransactionType string

// Canonical transaction types. TxCollectFull records collection of a
// cylinder returned before its gas was used.
const (
	TxCharge         TransactionType = "charge"
	TxChargeStart    TransactionType = "charge_start"
	TxChargeComplete TransactionType = "charge_complete"
	TxDeliver        TransactionType = "deliver"
	TxCollect        TransactionType = "collect"
	TxCollectFull    TransactionType = "collect_full"
	TxInspectOut     TransactionType = "inspect_out"
	TxInspectIn      TransactionType = "inspect_in"
	TxOtherOut       TransactionType = "other_out"
	TxScrap          TransactionType = "scrap"
	TxReinspect      TransactionType = "reinspect"
	TxLost           TransactionType = "lost"
)

// ValidTransactionTypes enumerates every accepted transaction type value.
var ValidTransactionTypes = []TransactionType{
	TxCharge, TxChargeStart, TxChargeComplete, TxDeliver, TxCollect,
	TxCollectFull, TxInspectOut, TxInspectIn, TxOtherOut, TxScrap,
	TxReinspect, TxLost,
}

// Transaction is an append-only log entry recording one accepted operation.
// Transactions are the sole source of lifecycle history and are never
// mutated after creation.
type Transaction struct {
	ID         string          `json:"id"`
	Type       TransactionType `json:"type"`
	CylinderID string          `json:"cylinder_id"`
	WorkerID   string          `json:"worker_id"`
	// CustomerID is the counterparty, or a holder marker for internal moves.
	CustomerID string    `json:"customer_id"`
	Timestamp  time.Time `json:"timestamp"`
	Memo       string    `json:"memo,omitempty"`
}
