// Package sanitize is the ingestion boundary that absorbs schema drift.
// Remote rows arrive as loose field mappings accumulated over years of
// renamed columns; this package resolves each attribute through an ordered
// key chain, clamps enumerated fields to their valid sets, synthesizes
// missing identifiers, and reports every repair. It never fails on
// malformed input.
package sanitize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cyltrack/pkg/domain"
)

// Record is one raw row from an upstream source before normalization.
type Record = map[string]any

// Report collects human-readable healing entries for a single sanitization
// call. Each call owns its report, so overlapping reloads never share state.
type Report struct {
	entries []string
}

// Entries returns the healing log lines in the order they were appended.
func (r *Report) Entries() []string { return r.entries }

// Empty reports whether any repair was performed.
func (r *Report) Empty() bool { return len(r.entries) == 0 }

func (r *Report) logf(format string, args ...any) {
	r.entries = append(r.entries, fmt.Sprintf(format, args...))
}

// ClampStatus maps a raw status value onto the canonical set. Unknown or
// missing values clamp to StatusEmpty; healed reports whether the input was
// changed.
func ClampStatus(raw string) (status domain.CylinderStatus, healed bool) {
	s := domain.CylinderStatus(strings.TrimSpace(strings.ToLower(raw)))
	for _, v := range domain.ValidStatuses {
		if s == v {
			return v, false
		}
	}
	return domain.StatusEmpty, true
}

// ClampTransactionType maps a raw transaction type onto the canonical set.
// Unknown or missing values clamp to TxOtherOut.
func ClampTransactionType(raw string) (tt domain.TransactionType, healed bool) {
	s := domain.TransactionType(strings.TrimSpace(strings.ToLower(raw)))
	for _, v := range domain.ValidTransactionTypes {
		if s == v {
			return v, false
		}
	}
	return domain.TxOtherOut, true
}

// clampClass maps legacy container-type spellings onto the canonical set.
// Missing values default to standard without counting as a repair.
func clampClass(raw string) (class domain.ContainerClass, healed bool) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "", "standard", "cylinder", "seamless":
		return domain.ClassStandard, false
	case "siphon":
		return domain.ClassSiphon, false
	case "cryogenic", "lgc":
		return domain.ClassCryogenic, false
	case "rack", "bundle":
		return domain.ClassRack, false
	default:
		return domain.ClassStandard, true
	}
}

// Cylinders normalizes raw cylinder rows. now seeds synthesized identifiers
// and default timestamps so repeated runs over the same input are traceable.
func Cylinders(recs []Record, now time.Time) ([]domain.Cylinder, *Report) {
	rep := &Report{}
	out := make([]domain.Cylinder, 0, len(recs))
	for i, rec := range recs {
		c := domain.Cylinder{
			ID:                 str(rec, "id"),
			GasType:            str(rec, "gas_type", "gasType"),
			Capacity:           strOr(rec, "40L", "capacity", "volume", "size"),
			Owner:              str(rec, "ownership", "owner"),
			ChargingExpiryDate: str(rec, "charging_expiry_date", "chargingExpiryDate", "expiry"),
			LastInspectionDate: str(rec, "last_inspection_date", "lastInspectionDate", "lastInspected"),
			ManufactureDate:    str(rec, "manufacture_date", "manufactureDate"),
			CurrentHolderID:    strOr(rec, domain.HolderFacility, "location", "current_holder_id", "currentHolderId"),
			ParentRackID:       str(rec, "parent_rack_id", "parentRackId"),
			Memo:               str(rec, "memo"),
			BundleCount:        intVal(rec, "bundle_count", "bundleCount"),
			ChildSerials:       strSlice(rec, "child_serials", "childSerials"),
			IsDeleted:          boolVal(rec, "is_deleted", "isDeleted"),
			CreatedAt:          timeOr(rec, now, "created_at", "created_date", "createdAt"),
			UpdatedAt:          timeOr(rec, now, "updated_at", "updatedAt"),
		}

		if c.ID == "" {
			c.ID = fmt.Sprintf("CYL_RESTORED_%d_%d", now.UnixMilli(), i)
			rep.logf("[Cyl Index %d] Missing ID restored: %s", i, c.ID)
		}
		// Serial falls back to memo, then to the (possibly restored) id.
		if c.SerialNumber = str(rec, "serial_number", "serialNumber"); c.SerialNumber == "" {
			if c.SerialNumber = c.Memo; c.SerialNumber == "" {
				c.SerialNumber = c.ID
			}
		}

		rawStatus := str(rec, "status")
		status, healed := ClampStatus(rawStatus)
		c.Status = status
		if healed && rawStatus != "" {
			rep.logf("[Cyl %s] Status '%s' clamped to '%s'", c.ID, rawStatus, status)
		}

		rawClass := str(rec, "container_class", "container_type", "containerType")
		class, healed := clampClass(rawClass)
		c.Class = class
		if healed {
			rep.logf("[Cyl %s] Container class '%s' clamped to '%s'", c.ID, rawClass, class)
		}

		// Bundle membership must agree with the declared count.
		if c.Class == domain.ClassRack && len(c.ChildSerials) > 0 && c.BundleCount != len(c.ChildSerials) {
			rep.logf("[Cyl %s] Bundle count %d snapped to %d member serials", c.ID, c.BundleCount, len(c.ChildSerials))
			c.BundleCount = len(c.ChildSerials)
		}

		out = append(out, c)
	}
	return out, rep
}

// Customers normalizes raw counterparty rows.
func Customers(recs []Record, now time.Time) ([]domain.Customer, *Report) {
	rep := &Report{}
	out := make([]domain.Customer, 0, len(recs))
	for i, rec := range recs {
		c := domain.Customer{
			ID:             str(rec, "id"),
			Name:           strOr(rec, "unnamed counterparty", "name"),
			PaymentType:    strOr(rec, "card", "payment_type", "paymentType"),
			BusinessNumber: str(rec, "business_number", "businessNumber"),
			LedgerNumber:   str(rec, "ledger_number", "ledgerNumber"),
			CorporateID:    str(rec, "corporate_id", "corporateId"),
			Representative: str(rec, "representative", "manager"),
			Phone:          str(rec, "phone"),
			Fax:            str(rec, "fax"),
			Address:        str(rec, "address"),
			Balance:        int64(intVal(rec, "balance")),
			IsDeleted:      boolVal(rec, "is_deleted", "isDeleted"),
			CreatedAt:      timeOr(rec, now, "created_at", "createdAt"),
			UpdatedAt:      timeOr(rec, now, "updated_at", "updatedAt"),
		}

		switch strings.TrimSpace(strings.ToLower(str(rec, "kind", "type"))) {
		case "individual", "person":
			c.Kind = domain.CustomerIndividual
		default:
			c.Kind = domain.CustomerBusiness
		}

		if t, ok := timeVal(rec, "deleted_at", "deletedAt"); ok {
			c.DeletedAt = &t
		}

		if c.ID == "" {
			c.ID = fmt.Sprintf("CUS_RESTORED_%d_%d", now.UnixMilli(), i)
			rep.logf("[Cus Index %d] Missing ID restored: %s", i, c.ID)
		}
		out = append(out, c)
	}
	return out, rep
}

// Transactions normalizes raw lifecycle log rows.
func Transactions(recs []Record, now time.Time) ([]domain.Transaction, *Report) {
	rep := &Report{}
	out := make([]domain.Transaction, 0, len(recs))
	for i, rec := range recs {
		t := domain.Transaction{
			ID:         str(rec, "id"),
			CylinderID: strOr(rec, "UNKNOWN", "cylinder_id", "cylinderId"),
			WorkerID:   strOr(rec, "UNKNOWN", "worker_id", "workerId"),
			CustomerID: strOr(rec, "UNKNOWN", "customer_id", "customerId", "customer"),
			Memo:       str(rec, "memo"),
			Timestamp:  timeOr(rec, now, "created_at", "date", "timestamp"),
		}

		if t.ID == "" {
			t.ID = fmt.Sprintf("TX_RESTORED_%d_%d", now.UnixMilli(), i)
			rep.logf("[Tx Index %d] Missing ID restored: %s", i, t.ID)
		}

		rawType := str(rec, "type")
		tt, healed := ClampTransactionType(rawType)
		t.Type = tt
		if healed && rawType != "" {
			rep.logf("[Tx %s] Type '%s' clamped to '%s'", t.ID, rawType, tt)
		}
		out = append(out, t)
	}
	return out, rep
}

// str resolves the first key holding a non-empty stringable value.
func str(rec Record, keys ...string) string {
	for _, k := range keys {
		if s, ok := asString(rec[k]); ok && s != "" {
			return s
		}
	}
	return ""
}

func strOr(rec Record, def string, keys ...string) string {
	if s := str(rec, keys...); s != "" {
		return s
	}
	return def
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	default:
		return "", false
	}
}

func intVal(rec Record, keys ...string) int {
	for _, k := range keys {
		switch n := rec[k].(type) {
		case float64:
			return int(n)
		case int:
			return n
		case int64:
			return int(n)
		case string:
			if v, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
				return v
			}
		}
	}
	return 0
}

func boolVal(rec Record, keys ...string) bool {
	for _, k := range keys {
		switch b := rec[k].(type) {
		case bool:
			if b {
				return true
			}
		case string:
			if strings.EqualFold(strings.TrimSpace(b), "true") {
				return true
			}
		}
	}
	return false
}

func strSlice(rec Record, keys ...string) []string {
	for _, k := range keys {
		switch vs := rec[k].(type) {
		case []string:
			return append([]string(nil), vs...)
		case []any:
			out := make([]string, 0, len(vs))
			for _, v := range vs {
				if s, ok := asString(v); ok && s != "" {
					out = append(out, s)
				}
			}
			return out
		case string:
			// Column stores pull JSON-encoded arrays.
			var out []string
			if err := json.Unmarshal([]byte(vs), &out); err == nil {
				return out
			}
		}
	}
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func timeVal(rec Record, keys ...string) (time.Time, bool) {
	for _, k := range keys {
		if t, ok := rec[k].(time.Time); ok {
			return t.UTC(), true
		}
		s, ok := asString(rec[k])
		if !ok || s == "" {
			continue
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func timeOr(rec Record, def time.Time, keys ...string) time.Time {
	if t, ok := timeVal(rec, keys...); ok {
		return t
	}
	return def
}
