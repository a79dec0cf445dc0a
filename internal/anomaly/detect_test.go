package anomaly

import (
	"testing"
	"time"

	"cyltrack/pkg/domain"
)

var now = time.Date(2026, time.August, 28, 10, 0, 0, 0, time.UTC)

func tx(id string, tt domain.TransactionType, cylID string, at time.Time) domain.Transaction {
	return domain.Transaction{ID: id, Type: tt, CylinderID: cylID, Timestamp: at}
}

func TestDetectProcedureSkipped(t *testing.T) {
	c := domain.Cylinder{ID: "cyl-1", SerialNumber: "SN-1", Status: domain.StatusFull, CurrentHolderID: domain.HolderFacility}
	trail := []domain.Transaction{
		tx("t1", domain.TxChargeComplete, "cyl-1", now.Add(-48*time.Hour)),
		tx("t2", domain.TxDeliver, "cyl-1", now.Add(-24*time.Hour)),
	}
	f := Detect(c, trail, now)
	if f == nil || f.Type != TypeProcedureSkipped {
		t.Fatalf("finding = %+v, want %s", f, TypeProcedureSkipped)
	}
}

func TestDetectImplausibleTurnaround(t *testing.T) {
	c := domain.Cylinder{ID: "cyl-1", SerialNumber: "SN-1", Status: domain.StatusEmpty, CurrentHolderID: "cust-1"}
	deliver := tx("t1", domain.TxDeliver, "cyl-1", now.Add(-20*time.Minute))

	fast := Detect(c, []domain.Transaction{
		deliver,
		tx("t2", domain.TxCollect, "cyl-1", now.Add(-15*time.Minute)),
	}, now)
	if fast == nil || fast.Type != TypeImplausibleTurnaround {
		t.Fatalf("finding = %+v, want %s", fast, TypeImplausibleTurnaround)
	}

	// Ten minutes or more is plausible.
	slow := Detect(c, []domain.Transaction{
		deliver,
		tx("t2", domain.TxCollect, "cyl-1", now.Add(-10*time.Minute)),
	}, now)
	if slow != nil {
		t.Fatalf("unexpected finding: %+v", slow)
	}

	// Zero or negative gaps are clock noise, not findings.
	same := Detect(c, []domain.Transaction{
		tx("t1", domain.TxDeliver, "cyl-1", now),
		tx("t2", domain.TxCollect, "cyl-1", now),
	}, now)
	if same != nil {
		t.Fatalf("unexpected finding on equal timestamps: %+v", same)
	}
}

func TestDetectStagnantInventory(t *testing.T) {
	c := domain.Cylinder{ID: "cyl-1", SerialNumber: "SN-1", Status: domain.StatusEmpty, CurrentHolderID: domain.HolderFacility}
	trail := []domain.Transaction{
		tx("t1", domain.TxDeliver, "cyl-1", now.Add(-400*24*time.Hour)),
		tx("t2", domain.TxCollect, "cyl-1", now.Add(-200*24*time.Hour)),
	}
	f := Detect(c, trail, now)
	if f == nil || f.Type != TypeStagnantInventory {
		t.Fatalf("finding = %+v, want %s", f, TypeStagnantInventory)
	}

	// Same trail but held by a customer is not stagnant plant inventory.
	away := c
	away.CurrentHolderID = "cust-1"
	if f := Detect(away, trail, now); f != nil {
		t.Fatalf("unexpected finding: %+v", f)
	}
}

func TestDetectPriorityOrder(t *testing.T) {
	// A trail that is both procedure-skipped and stagnant reports the
	// procedure break.
	c := domain.Cylinder{ID: "cyl-1", SerialNumber: "SN-1", Status: domain.StatusFull, CurrentHolderID: domain.HolderFacility}
	trail := []domain.Transaction{
		tx("t1", domain.TxChargeComplete, "cyl-1", now.Add(-400*24*time.Hour)),
		tx("t2", domain.TxDeliver, "cyl-1", now.Add(-300*24*time.Hour)),
	}
	f := Detect(c, trail, now)
	if f == nil || f.Type != TypeProcedureSkipped {
		t.Fatalf("finding = %+v, want %s", f, TypeProcedureSkipped)
	}
}

func TestDetectIgnoresOtherCylinders(t *testing.T) {
	c := domain.Cylinder{ID: "cyl-1", SerialNumber: "SN-1", Status: domain.StatusFull, CurrentHolderID: domain.HolderFacility}
	trail := []domain.Transaction{
		tx("t1", domain.TxDeliver, "cyl-2", now.Add(-24*time.Hour)),
		tx("t2", domain.TxDeliver, "cyl-3", now.Add(-12*time.Hour)),
	}
	if f := Detect(c, trail, now); f != nil {
		t.Fatalf("unexpected finding: %+v", f)
	}
}

func TestDetectMatchesBySerialNumber(t *testing.T) {
	// Legacy rows key transactions by etched serial instead of record id.
	c := domain.Cylinder{ID: "cyl-1", SerialNumber: "SN-1", Status: domain.StatusFull, CurrentHolderID: domain.HolderFacility}
	trail := []domain.Transaction{
		tx("t1", domain.TxChargeComplete, "SN-1", now.Add(-48*time.Hour)),
		tx("t2", domain.TxDeliver, "SN-1", now.Add(-24*time.Hour)),
	}
	f := Detect(c, trail, now)
	if f == nil || f.Type != TypeProcedureSkipped {
		t.Fatalf("finding = %+v, want %s", f, TypeProcedureSkipped)
	}
}

func TestDetectShortTrail(t *testing.T) {
	c := domain.Cylinder{ID: "cyl-1", Status: domain.StatusFull}
	if f := Detect(c, []domain.Transaction{tx("t1", domain.TxDeliver, "cyl-1", now)}, now); f != nil {
		t.Fatalf("single-entry trail produced finding: %+v", f)
	}
}
