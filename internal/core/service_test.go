package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"cyltrack/internal/anomaly"
	"cyltrack/internal/safety"
	"cyltrack/internal/sanitize"
	"cyltrack/internal/store"
	"cyltrack/pkg/domain"
)

// Mid-September puts a "2026-09" expiry 16 days out (orange, warn) and a
// "2026-08" expiry in the past (red, blocked).
var testNow = time.Date(2026, time.September, 15, 9, 0, 0, 0, time.UTC)

const (
	expiryGreen  = "2026-12"
	expiryOrange = "2026-09"
	expiryRed    = "2026-08"
)

type fakeRemote struct {
	cylinders    []sanitize.Record
	customers    []sanitize.Record
	transactions []sanitize.Record
}

func (f *fakeRemote) FetchCylinders(context.Context) ([]sanitize.Record, error) {
	return f.cylinders, nil
}
func (f *fakeRemote) FetchCustomers(context.Context) ([]sanitize.Record, error) {
	return f.customers, nil
}
func (f *fakeRemote) FetchTransactions(context.Context) ([]sanitize.Record, error) {
	return f.transactions, nil
}
func (f *fakeRemote) UpsertCylinders(context.Context, []domain.Cylinder) error       { return nil }
func (f *fakeRemote) UpsertCustomers(context.Context, []domain.Customer) error       { return nil }
func (f *fakeRemote) UpsertTransactions(context.Context, []domain.Transaction) error { return nil }

func cylRecord(id, serial string, status domain.CylinderStatus, holder, expiry string) sanitize.Record {
	return sanitize.Record{
		"id": id, "serial_number": serial, "status": string(status),
		"location": holder, "charging_expiry_date": expiry,
		"gas_type": "O2", "manufacture_date": "2015-03-01",
	}
}

func newTestService(t *testing.T, remote *fakeRemote) *Service {
	t.Helper()
	st, err := store.New(context.Background(), store.Options{
		Remote: remote,
		Now:    func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(st.Close)

	if _, err := st.Reload(context.Background(), false); err != nil {
		t.Fatalf("reload: %v", err)
	}

	seq := 0
	svc, err := NewService(ServiceOptions{
		Store: st,
		Now:   func() time.Time { return testNow },
		NewID: func() string { seq++; return fmt.Sprintf("tx-%04d", seq) },
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return svc
}

func defaultRemote() *fakeRemote {
	return &fakeRemote{
		cylinders: []sanitize.Record{
			cylRecord("cyl-full", "SN-100", domain.StatusFull, domain.HolderFacility, expiryGreen),
			cylRecord("cyl-empty", "SN-200", domain.StatusEmpty, domain.HolderFacility, expiryGreen),
			cylRecord("cyl-orange", "SN-300", domain.StatusFull, domain.HolderFacility, expiryOrange),
			cylRecord("cyl-red", "SN-400", domain.StatusFull, domain.HolderFacility, expiryRed),
			cylRecord("cyl-out", "SN-500", domain.StatusDelivered, "cust-1", expiryGreen),
		},
		customers: []sanitize.Record{
			{"id": "cust-1", "name": "Acme Gas", "type": "business"},
		},
	}
}

func TestDeliverHappyPath(t *testing.T) {
	svc := newTestService(t, defaultRemote())
	ctx := context.Background()

	res, err := svc.Deliver(ctx, "SN-100", "cust-1", "worker-1", false)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if !res.Applied || !res.Validation.Accepted {
		t.Fatalf("result = %+v", res)
	}
	if res.Cylinder.Status != domain.StatusDelivered || res.Cylinder.CurrentHolderID != "cust-1" {
		t.Fatalf("transition missing: %+v", res.Cylinder)
	}
	if res.Transaction == nil || res.Transaction.Type != domain.TxDeliver {
		t.Fatalf("transaction = %+v", res.Transaction)
	}
	if res.Transaction.CylinderID != "SN-100" {
		t.Fatalf("trail keyed on %q, want serial", res.Transaction.CylinderID)
	}
	if !strings.Contains(res.Transaction.Memo, "Acme Gas") {
		t.Fatalf("memo = %q", res.Transaction.Memo)
	}

	// The committed state and the log both carry the change.
	got, _ := svc.store.FindCylinder("cyl-full")
	if got.Status != domain.StatusDelivered {
		t.Fatalf("committed cylinder = %+v", got)
	}
	txs := svc.store.Transactions()
	if len(txs) != 1 || txs[0].ID != res.Transaction.ID {
		t.Fatalf("transaction log = %+v", txs)
	}
}

func TestDeliverWarningNeedsConfirmation(t *testing.T) {
	svc := newTestService(t, defaultRemote())
	ctx := context.Background()

	res, err := svc.Deliver(ctx, "SN-300", "cust-1", "worker-1", false)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if res.Applied {
		t.Fatal("warning-carrying delivery applied without confirmation")
	}
	if res.Validation.Code != domain.CodeConfirmRequired || res.Validation.Warning == "" {
		t.Fatalf("validation = %+v", res.Validation)
	}
	if got, _ := svc.store.FindCylinder("cyl-orange"); got.Status != domain.StatusFull {
		t.Fatalf("unconfirmed delivery mutated state: %+v", got)
	}

	// Acknowledged retry proceeds and records the warning.
	res, err = svc.Deliver(ctx, "SN-300", "cust-1", "worker-1", true)
	if err != nil {
		t.Fatalf("forced deliver: %v", err)
	}
	if !res.Applied {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Transaction.Memo, "acknowledged:") {
		t.Fatalf("memo = %q", res.Transaction.Memo)
	}
}

func TestDeliverExpiredIsNeverForceable(t *testing.T) {
	svc := newTestService(t, defaultRemote())

	for _, force := range []bool{false, true} {
		res, err := svc.Deliver(context.Background(), "SN-400", "cust-1", "worker-1", force)
		if err != nil {
			t.Fatalf("deliver force=%v: %v", force, err)
		}
		if res.Applied || res.Validation.Code != domain.CodeExpiryLimit {
			t.Fatalf("force=%v result = %+v", force, res)
		}
	}
}

func TestDeliverForceOverridesStatusMismatch(t *testing.T) {
	svc := newTestService(t, defaultRemote())
	ctx := context.Background()

	res, err := svc.Deliver(ctx, "SN-200", "cust-1", "worker-1", false)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if res.Applied || res.Validation.Code != domain.CodeStatusMismatch {
		t.Fatalf("result = %+v", res)
	}

	res, err = svc.Deliver(ctx, "SN-200", "cust-1", "worker-1", true)
	if err != nil {
		t.Fatalf("forced deliver: %v", err)
	}
	if !res.Applied {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Transaction.Memo, "forced:") {
		t.Fatalf("memo = %q", res.Transaction.Memo)
	}
}

func TestDeliverLookupFailures(t *testing.T) {
	svc := newTestService(t, defaultRemote())
	ctx := context.Background()

	if _, err := svc.Deliver(ctx, "SN-100", "nobody", "worker-1", false); !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("unknown customer err = %v", err)
	}
	if _, err := svc.Deliver(ctx, "SN-999", "cust-1", "worker-1", false); !errors.Is(err, ErrCylinderNotFound) {
		t.Fatalf("unknown cylinder err = %v", err)
	}
	if _, err := svc.Deliver(ctx, "SN-100", "cust-1", "  ", false); !errors.Is(err, ErrWorkerRequired) {
		t.Fatalf("missing worker err = %v", err)
	}
	// A failed customer lookup must not leave a half-applied transition.
	if got, _ := svc.store.FindCylinder("cyl-full"); got.Status != domain.StatusFull {
		t.Fatalf("failed lookup mutated state: %+v", got)
	}
}

func TestCollectEmptyAndFull(t *testing.T) {
	svc := newTestService(t, defaultRemote())
	ctx := context.Background()

	res, err := svc.Collect(ctx, "SN-500", "cust-1", "worker-1", false, false)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !res.Applied || res.Transaction.Type != domain.TxCollect {
		t.Fatalf("result = %+v", res)
	}
	if res.Cylinder.Status != domain.StatusEmpty || res.Cylinder.CurrentHolderID != domain.HolderFacility {
		t.Fatalf("cylinder = %+v", res.Cylinder)
	}

	// Deliver again and collect with the charge intact.
	if _, err := svc.Deliver(ctx, "SN-100", "cust-1", "worker-1", false); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	res, err = svc.Collect(ctx, "SN-100", "cust-1", "worker-1", true, false)
	if err != nil {
		t.Fatalf("collect full: %v", err)
	}
	if res.Transaction.Type != domain.TxCollectFull || res.Cylinder.Status != domain.StatusFull {
		t.Fatalf("result = %+v", res)
	}
}

func TestCollectRejectsWrongCounterparty(t *testing.T) {
	svc := newTestService(t, defaultRemote())

	res, err := svc.Collect(context.Background(), "SN-500", "cust-other", "worker-1", false, false)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if res.Applied || res.Validation.Code != domain.CodeLocationMismatch {
		t.Fatalf("result = %+v", res)
	}
}

func TestChargingFlow(t *testing.T) {
	svc := newTestService(t, defaultRemote())
	ctx := context.Background()

	res, err := svc.ChargingStart(ctx, "SN-200", "worker-1", false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !res.Applied || res.Cylinder.Status != domain.StatusCharging {
		t.Fatalf("start result = %+v", res)
	}

	// Starting again is a distinct rejection.
	res, err = svc.ChargingStart(ctx, "SN-200", "worker-1", false)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if res.Applied || res.Validation.Code != domain.CodeAlreadyCharging {
		t.Fatalf("restart result = %+v", res)
	}

	res, err = svc.ChargingComplete(ctx, "SN-200", "worker-1", false)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !res.Applied || res.Cylinder.Status != domain.StatusFull {
		t.Fatalf("complete result = %+v", res)
	}
	if res.Transaction.Type != domain.TxChargeComplete || res.Transaction.CustomerID != domain.HolderFacility {
		t.Fatalf("transaction = %+v", res.Transaction)
	}
}

func TestInspectionCycleRenewsExpiry(t *testing.T) {
	svc := newTestService(t, defaultRemote())
	ctx := context.Background()

	res, err := svc.InspectionOutbound(ctx, "SN-200", "worker-1", false)
	if err != nil {
		t.Fatalf("outbound: %v", err)
	}
	if !res.Applied || res.Cylinder.CurrentHolderID != domain.HolderInspectionAgency {
		t.Fatalf("outbound result = %+v", res)
	}
	if res.Cylinder.Status != domain.StatusInInspection {
		t.Fatalf("outbound status = %s", res.Cylinder.Status)
	}

	// Inbound with no explicit date computes the statutory renewal:
	// manufactured 2015, standard class, age 11 in 2026, so +3 years snapped
	// to month end.
	res, err = svc.InspectionInbound(ctx, "SN-200", "worker-1", "", false)
	if err != nil {
		t.Fatalf("inbound: %v", err)
	}
	if !res.Applied {
		t.Fatalf("inbound result = %+v", res)
	}
	c := res.Cylinder
	if c.ChargingExpiryDate != "2029-09-30" {
		t.Fatalf("renewed expiry = %q", c.ChargingExpiryDate)
	}
	if c.LastInspectionDate != "2026-09-15" {
		t.Fatalf("last inspection = %q", c.LastInspectionDate)
	}
	if c.Status != domain.StatusEmpty || c.CurrentHolderID != domain.HolderFacility {
		t.Fatalf("cylinder = %+v", c)
	}
}

func TestInspectionInboundRequiresOutboundShipment(t *testing.T) {
	svc := newTestService(t, defaultRemote())

	res, err := svc.InspectionInbound(context.Background(), "SN-200", "worker-1", "2030-01-31", true)
	if err != nil {
		t.Fatalf("inbound: %v", err)
	}
	// LOCATION_ERROR is not forceable: there is no shipment to receive.
	if res.Applied || res.Validation.Code != domain.CodeLocationError {
		t.Fatalf("result = %+v", res)
	}
}

func TestInspectionReinspectMarksDefective(t *testing.T) {
	svc := newTestService(t, defaultRemote())
	ctx := context.Background()

	if _, err := svc.InspectionOutbound(ctx, "SN-200", "worker-1", false); err != nil {
		t.Fatalf("outbound: %v", err)
	}
	res, err := svc.InspectionReinspect(ctx, "SN-200", "worker-1", false)
	if err != nil {
		t.Fatalf("reinspect: %v", err)
	}
	if !res.Applied || res.Cylinder.Status != domain.StatusDefective {
		t.Fatalf("result = %+v", res)
	}
	if res.Cylinder.CurrentHolderID != domain.HolderFacility {
		t.Fatalf("holder = %q", res.Cylinder.CurrentHolderID)
	}
}

func TestScrapIsTerminal(t *testing.T) {
	svc := newTestService(t, defaultRemote())
	ctx := context.Background()

	res, err := svc.InspectionScrap(ctx, "SN-100", "worker-1", false)
	if err != nil {
		t.Fatalf("scrap: %v", err)
	}
	if !res.Applied || res.Cylinder.Status != domain.StatusScrapped {
		t.Fatalf("result = %+v", res)
	}

	// Nothing works on a scrapped cylinder, not even with force.
	res, err = svc.Deliver(ctx, "SN-100", "cust-1", "worker-1", true)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if res.Applied || res.Validation.Code != domain.CodeDiscarded {
		t.Fatalf("result = %+v", res)
	}

	// Scrapping again must not append a second scrap transaction.
	before := len(svc.store.Transactions())
	res, err = svc.InspectionScrap(ctx, "SN-100", "worker-1", true)
	if err != nil {
		t.Fatalf("re-scrap: %v", err)
	}
	if res.Applied || res.Validation.Code != domain.CodeDiscarded {
		t.Fatalf("re-scrap result = %+v", res)
	}
	if got := len(svc.store.Transactions()); got != before {
		t.Fatalf("transaction log grew from %d to %d on a rejected scrap", before, got)
	}
}

func TestScrappedAtAgencyCannotReturnToService(t *testing.T) {
	svc := newTestService(t, defaultRemote())
	ctx := context.Background()

	// Ship out, then condemn at the agency. The holder stays as recorded.
	if _, err := svc.InspectionOutbound(ctx, "SN-200", "worker-1", false); err != nil {
		t.Fatalf("outbound: %v", err)
	}
	res, err := svc.InspectionScrap(ctx, "SN-200", "worker-1", false)
	if err != nil {
		t.Fatalf("scrap: %v", err)
	}
	if !res.Applied || res.Cylinder.CurrentHolderID != domain.HolderInspectionAgency {
		t.Fatalf("scrap result = %+v", res)
	}

	// Receiving or reinspecting it would resurrect the record; both must
	// reject on the terminal status even with force.
	res, err = svc.InspectionInbound(ctx, "SN-200", "worker-1", "", true)
	if err != nil {
		t.Fatalf("inbound: %v", err)
	}
	if res.Applied || res.Validation.Code != domain.CodeDiscarded {
		t.Fatalf("inbound result = %+v", res)
	}
	res, err = svc.InspectionReinspect(ctx, "SN-200", "worker-1", true)
	if err != nil {
		t.Fatalf("reinspect: %v", err)
	}
	if res.Applied || res.Validation.Code != domain.CodeDiscarded {
		t.Fatalf("reinspect result = %+v", res)
	}

	got, _ := svc.store.FindCylinder("SN-200")
	if got.Status != domain.StatusScrapped {
		t.Fatalf("status = %s, want scrapped", got.Status)
	}
	if got.ChargingExpiryDate != expiryGreen {
		t.Fatalf("expiry = %q, renewed on a scrapped cylinder", got.ChargingExpiryDate)
	}
}

func TestFullOutboundInspectionWarnsToVent(t *testing.T) {
	svc := newTestService(t, defaultRemote())
	ctx := context.Background()

	res, err := svc.InspectionOutbound(ctx, "SN-100", "worker-1", false)
	if err != nil {
		t.Fatalf("outbound: %v", err)
	}
	if res.Applied || res.Validation.Code != domain.CodeConfirmRequired {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Validation.Warning, "vent") {
		t.Fatalf("warning = %q", res.Validation.Warning)
	}

	res, err = svc.InspectionOutbound(ctx, "SN-100", "worker-1", true)
	if err != nil {
		t.Fatalf("forced outbound: %v", err)
	}
	if !res.Applied {
		t.Fatalf("result = %+v", res)
	}
}

func TestRegisterCylinder(t *testing.T) {
	svc := newTestService(t, defaultRemote())
	ctx := context.Background()

	c, err := svc.RegisterCylinder(ctx, domain.Cylinder{SerialNumber: "SN-NEW", GasType: "Ar"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if c.ID == "" || c.Status != domain.StatusEmpty || c.CurrentHolderID != domain.HolderFacility {
		t.Fatalf("defaults missing: %+v", c)
	}
	if c.Class != domain.ClassStandard || c.Capacity != "40L" {
		t.Fatalf("defaults missing: %+v", c)
	}
	if _, ok := svc.store.FindCylinder("SN-NEW"); !ok {
		t.Fatal("registered cylinder not committed")
	}

	if _, err := svc.RegisterCylinder(ctx, domain.Cylinder{SerialNumber: "SN-NEW"}); !errors.Is(err, ErrDuplicateSerial) {
		t.Fatalf("duplicate err = %v", err)
	}
	if _, err := svc.RegisterCylinder(ctx, domain.Cylinder{}); err == nil {
		t.Fatal("missing serial accepted")
	}
}

func TestRegisterCustomer(t *testing.T) {
	svc := newTestService(t, defaultRemote())

	cust, err := svc.RegisterCustomer(context.Background(), domain.Customer{Name: "New Works"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if cust.ID == "" || cust.Kind != domain.CustomerBusiness {
		t.Fatalf("defaults missing: %+v", cust)
	}
	if _, ok := svc.store.FindCustomer(cust.ID); !ok {
		t.Fatal("registered customer not committed")
	}
}

func TestCheckReportsBandAndAnomaly(t *testing.T) {
	remote := defaultRemote()
	// A deliver answered by a collect five minutes later is flagged.
	remote.transactions = []sanitize.Record{
		{"id": "t1", "type": "deliver", "cylinderId": "SN-100", "workerId": "w1",
			"customerId": "cust-1", "timestamp": testNow.Add(-time.Hour).Format(time.RFC3339)},
		{"id": "t2", "type": "collect", "cylinderId": "SN-100", "workerId": "w1",
			"customerId": "cust-1", "timestamp": testNow.Add(-55 * time.Minute).Format(time.RFC3339)},
	}
	svc := newTestService(t, remote)

	rep, err := svc.Check(context.Background(), "SN-100")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if rep.Expiry.Band != safety.BandGreen {
		t.Fatalf("band = %s", rep.Expiry.Band)
	}
	if rep.Anomaly == nil || rep.Anomaly.Type != anomaly.TypeImplausibleTurnaround {
		t.Fatalf("anomaly = %+v", rep.Anomaly)
	}

	// A clean trail yields no finding.
	rep, err = svc.Check(context.Background(), "SN-200")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if rep.Anomaly != nil {
		t.Fatalf("unexpected anomaly: %+v", rep.Anomaly)
	}

	if _, err := svc.Check(context.Background(), "SN-999"); !errors.Is(err, ErrCylinderNotFound) {
		t.Fatalf("unknown cylinder err = %v", err)
	}
}
