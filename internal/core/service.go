// Package core exposes the lifecycle operations as a service: each entry
// point validates the request against the business-rule guards, applies the
// status and holder transition, and appends the immutable transaction, all
// inside one dispatcher unit so concurrent requests can never interleave.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cyltrack/internal/anomaly"
	"cyltrack/internal/lifecycle"
	"cyltrack/internal/safety"
	"cyltrack/internal/store"
	"cyltrack/pkg/domain"
)

// Lookup and input failures surfaced as errors. Business-rule rejections are
// never errors; they come back inside Result.
var (
	ErrCylinderNotFound = errors.New("cylinder not found")
	ErrCustomerNotFound = errors.New("customer not found")
	ErrWorkerRequired   = errors.New("worker id is required")
	ErrDuplicateSerial  = errors.New("serial number already registered")
)

// errRejected aborts the store updater without committing. It never leaves
// this package: callers see the rejection in Result.Validation.
var errRejected = errors.New("core: rejected")

// Service wires the guards, the synchronized store, and the transaction log
// together.
type Service struct {
	store   *store.Store
	guard   *lifecycle.Validator
	log     *zap.Logger
	metrics *store.Metrics
	now     func() time.Time
	newID   func() string
}

// ServiceOptions configures a Service. Store is required.
type ServiceOptions struct {
	Store   *store.Store
	Logger  *zap.Logger
	Metrics *store.Metrics

	Now   func() time.Time
	NewID func() string
}

// NewService constructs a Service with working defaults.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("core: store is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = store.NewMetrics(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Service{
		store:   opts.Store,
		guard:   lifecycle.NewValidator(opts.Now),
		log:     opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
		newID:   opts.NewID,
	}, nil
}

// Result is the outcome of one operation. Applied is false when the guard
// rejected the request or when a warning still needs operator confirmation;
// Validation carries the verdict either way.
type Result struct {
	Applied     bool                    `json:"applied"`
	Validation  domain.ValidationResult `json:"validation"`
	Cylinder    domain.Cylinder         `json:"cylinder"`
	Transaction *domain.Transaction     `json:"transaction,omitempty"`
}

// forceable reports whether an operator may override the rejection. Terminal
// and safety rejections are never overridable; neither is a missing
// inspection shipment, since there is nothing meaningful to force.
func forceable(code domain.RejectCode) bool {
	switch code {
	case domain.CodeDiscarded, domain.CodeExpiryLimit, domain.CodeLocationError:
		return false
	}
	return true
}

func findCylinder(cyls []domain.Cylinder, key string) int {
	for i, c := range cyls {
		if c.ID == key || c.SerialNumber == key {
			return i
		}
	}
	return -1
}

// txCylinderKey picks the identifier recorded on the transaction. The etched
// serial is what field workers scan, so the trail is keyed on it when
// present.
func txCylinderKey(c domain.Cylinder) string {
	if c.SerialNumber != "" {
		return c.SerialNumber
	}
	return c.ID
}

// execute runs one guarded transition. step mutates the cylinder in place
// and names the transaction to append; counterparty is the recorded customer
// id or a holder marker for internal moves.
func (s *Service) execute(ctx context.Context, op, key, workerID, counterparty string, force bool,
	validate func(domain.Cylinder) domain.ValidationResult,
	step func(w *store.Working, idx int) (domain.TransactionType, string, error),
) (Result, error) {
	if strings.TrimSpace(workerID) == "" {
		return Result{}, ErrWorkerRequired
	}

	var res Result
	err := s.store.Apply(ctx, func(w *store.Working) error {
		idx := findCylinder(w.Cylinders, key)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrCylinderNotFound, key)
		}
		res.Cylinder = w.Cylinders[idx].Clone()
		res.Validation = validate(w.Cylinders[idx])

		var note string
		switch {
		case !res.Validation.Accepted:
			if !force || !forceable(res.Validation.Code) {
				return errRejected
			}
			note = "forced: " + res.Validation.Err
		case res.Validation.Warning != "" && !force:
			res.Validation = domain.ValidationResult{
				Code:    domain.CodeConfirmRequired,
				Err:     "operator confirmation required",
				Warning: res.Validation.Warning,
			}
			return errRejected
		case res.Validation.Warning != "":
			note = "acknowledged: " + res.Validation.Warning
		}

		txType, memo, err := step(w, idx)
		if err != nil {
			return err
		}
		if note != "" {
			memo = memo + " [" + note + "]"
		}
		w.Cylinders[idx].UpdatedAt = s.now()

		tx := domain.Transaction{
			ID:         s.newID(),
			Type:       txType,
			CylinderID: txCylinderKey(w.Cylinders[idx]),
			WorkerID:   workerID,
			CustomerID: counterparty,
			Timestamp:  s.now(),
			Memo:       memo,
		}
		w.Transactions = append(w.Transactions, tx)

		res.Cylinder = w.Cylinders[idx].Clone()
		res.Transaction = &tx
		res.Applied = true
		return nil
	})
	if errors.Is(err, errRejected) {
		s.metrics.Rejections.WithLabelValues(string(res.Validation.Code)).Inc()
		s.log.Info("operation rejected",
			zap.String("op", op),
			zap.String("cylinder", key),
			zap.String("code", string(res.Validation.Code)),
			zap.String("reason", res.Validation.Err))
		return res, nil
	}
	if err != nil {
		return Result{}, err
	}
	s.log.Info("operation applied",
		zap.String("op", op),
		zap.String("cylinder", res.Cylinder.SerialNumber),
		zap.String("type", string(res.Transaction.Type)),
		zap.String("worker", workerID))
	return res, nil
}

// Deliver hands a full cylinder to a customer.
func (s *Service) Deliver(ctx context.Context, cylinderKey, customerID, workerID string, force bool) (Result, error) {
	return s.execute(ctx, "deliver", cylinderKey, workerID, customerID, force,
		func(c domain.Cylinder) domain.ValidationResult {
			return s.guard.ValidateDelivery(c, customerID)
		},
		func(w *store.Working, idx int) (domain.TransactionType, string, error) {
			var name string
			for _, cust := range w.Customers {
				if cust.ID == customerID {
					name = cust.Name
					break
				}
			}
			if name == "" {
				return "", "", fmt.Errorf("%w: %s", ErrCustomerNotFound, customerID)
			}
			w.Cylinders[idx].Status = domain.StatusDelivered
			w.Cylinders[idx].CurrentHolderID = customerID
			return domain.TxDeliver, "delivered to " + name, nil
		})
}

// Collect retrieves a cylinder from a customer site. stillFull is the
// operator's call at pickup: a cylinder returned with its charge intact is
// recorded as collect_full and keeps the full status.
func (s *Service) Collect(ctx context.Context, cylinderKey, customerID, workerID string, stillFull, force bool) (Result, error) {
	return s.execute(ctx, "collect", cylinderKey, workerID, customerID, force,
		func(c domain.Cylinder) domain.ValidationResult {
			return s.guard.ValidateCollection(c, customerID)
		},
		func(w *store.Working, idx int) (domain.TransactionType, string, error) {
			c := &w.Cylinders[idx]
			c.CurrentHolderID = domain.HolderFacility
			if stillFull {
				c.Status = domain.StatusFull
				return domain.TxCollectFull, "collected (still full)", nil
			}
			c.Status = domain.StatusEmpty
			return domain.TxCollect, "collected (empty)", nil
		})
}

// ChargingStart moves an empty cylinder onto the charging manifold.
func (s *Service) ChargingStart(ctx context.Context, cylinderKey, workerID string, force bool) (Result, error) {
	return s.execute(ctx, "charging_start", cylinderKey, workerID, domain.HolderFacility, force,
		s.guard.ValidateChargingStart,
		func(w *store.Working, idx int) (domain.TransactionType, string, error) {
			w.Cylinders[idx].Status = domain.StatusCharging
			w.Cylinders[idx].CurrentHolderID = domain.HolderFacility
			return domain.TxChargeStart, "charging started", nil
		})
}

// ChargingComplete marks a charging cylinder full.
func (s *Service) ChargingComplete(ctx context.Context, cylinderKey, workerID string, force bool) (Result, error) {
	return s.execute(ctx, "charging_complete", cylinderKey, workerID, domain.HolderFacility, force,
		s.guard.ValidateChargingComplete,
		func(w *store.Working, idx int) (domain.TransactionType, string, error) {
			w.Cylinders[idx].Status = domain.StatusFull
			w.Cylinders[idx].CurrentHolderID = domain.HolderFacility
			return domain.TxChargeComplete, "charging completed", nil
		})
}

// InspectionOutbound ships a cylinder to the inspection agency.
func (s *Service) InspectionOutbound(ctx context.Context, cylinderKey, workerID string, force bool) (Result, error) {
	return s.execute(ctx, "inspection_out", cylinderKey, workerID, domain.HolderFacility, force,
		s.guard.ValidateInspectionOutbound,
		func(w *store.Working, idx int) (domain.TransactionType, string, error) {
			w.Cylinders[idx].Status = domain.StatusInInspection
			w.Cylinders[idx].CurrentHolderID = domain.HolderInspectionAgency
			return domain.TxInspectOut, "shipped for inspection", nil
		})
}

// InspectionInbound receives a cylinder back from the agency with a renewed
// charging expiry. An empty nextExpiry computes the statutory renewal from
// the manufacture year and container class.
func (s *Service) InspectionInbound(ctx context.Context, cylinderKey, workerID, nextExpiry string, force bool) (Result, error) {
	return s.execute(ctx, "inspection_in", cylinderKey, workerID, domain.HolderFacility, force,
		s.guard.ValidateInspectionInbound,
		func(w *store.Working, idx int) (domain.TransactionType, string, error) {
			c := &w.Cylinders[idx]
			renewed := nextExpiry
			if renewed == "" {
				renewed = safety.NextExpiryDate(s.now(), c.ManufactureDate, c.Class)
			}
			c.Status = domain.StatusEmpty
			c.CurrentHolderID = domain.HolderFacility
			c.ChargingExpiryDate = renewed
			c.LastInspectionDate = s.now().UTC().Format("2006-01-02")
			return domain.TxInspectIn, "inspection passed, expiry renewed to " + safety.FormatYearMonth(renewed), nil
		})
}

// InspectionReinspect returns a failed cylinder from the agency as defective
// for repair and re-check.
func (s *Service) InspectionReinspect(ctx context.Context, cylinderKey, workerID string, force bool) (Result, error) {
	return s.execute(ctx, "inspection_reinspect", cylinderKey, workerID, domain.HolderFacility, force,
		s.guard.ValidateInspectionReinspect,
		func(w *store.Working, idx int) (domain.TransactionType, string, error) {
			w.Cylinders[idx].Status = domain.StatusDefective
			w.Cylinders[idx].CurrentHolderID = domain.HolderFacility
			return domain.TxReinspect, "inspection failed, returned for repair", nil
		})
}

// InspectionScrap condemns a cylinder. The holder is left as recorded; the
// scrapped status is terminal and every later operation rejects it.
func (s *Service) InspectionScrap(ctx context.Context, cylinderKey, workerID string, force bool) (Result, error) {
	return s.execute(ctx, "inspection_scrap", cylinderKey, workerID, domain.HolderFacility, force,
		s.guard.ValidateInspectionScrap,
		func(w *store.Working, idx int) (domain.TransactionType, string, error) {
			w.Cylinders[idx].Status = domain.StatusScrapped
			return domain.TxScrap, "condemned and scrapped", nil
		})
}

// RegisterCylinder adds a new cylinder record. Missing fields get the same
// defaults the sanitizer applies to inbound records.
func (s *Service) RegisterCylinder(ctx context.Context, c domain.Cylinder) (domain.Cylinder, error) {
	if strings.TrimSpace(c.SerialNumber) == "" {
		return domain.Cylinder{}, fmt.Errorf("register cylinder: serial number is required")
	}
	if c.ID == "" {
		c.ID = s.newID()
	}
	if c.Status == "" {
		c.Status = domain.StatusEmpty
	}
	if c.CurrentHolderID == "" {
		c.CurrentHolderID = domain.HolderFacility
	}
	if c.Class == "" {
		c.Class = domain.ClassStandard
	}
	if c.Capacity == "" {
		c.Capacity = "40L"
	}
	c.CreatedAt = s.now()
	c.UpdatedAt = c.CreatedAt

	err := s.store.UpdateCylinders(ctx, func(cyls []domain.Cylinder) ([]domain.Cylinder, error) {
		for _, existing := range cyls {
			if existing.SerialNumber == c.SerialNumber || existing.ID == c.ID {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateSerial, c.SerialNumber)
			}
		}
		return append(cyls, c), nil
	})
	if err != nil {
		return domain.Cylinder{}, err
	}
	s.log.Info("cylinder registered", zap.String("serial", c.SerialNumber), zap.String("gas", c.GasType))
	return c, nil
}

// RegisterCustomer adds a new counterparty record.
func (s *Service) RegisterCustomer(ctx context.Context, cust domain.Customer) (domain.Customer, error) {
	if strings.TrimSpace(cust.Name) == "" {
		return domain.Customer{}, fmt.Errorf("register customer: name is required")
	}
	if cust.ID == "" {
		cust.ID = s.newID()
	}
	if cust.Kind == "" {
		cust.Kind = domain.CustomerBusiness
	}
	cust.CreatedAt = s.now()
	cust.UpdatedAt = cust.CreatedAt

	err := s.store.UpdateCustomers(ctx, func(custs []domain.Customer) ([]domain.Customer, error) {
		for _, existing := range custs {
			if existing.ID == cust.ID {
				return nil, fmt.Errorf("customer %s already exists", cust.ID)
			}
		}
		return append(custs, cust), nil
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.log.Info("customer registered", zap.String("id", cust.ID), zap.String("name", cust.Name))
	return cust, nil
}

// CylinderReport is the read-side check result: the record, its expiry
// classification, and the highest-priority anomaly in its transaction trail.
type CylinderReport struct {
	Cylinder domain.Cylinder     `json:"cylinder"`
	Expiry   safety.ExpiryStatus `json:"expiry"`
	Anomaly  *anomaly.Finding    `json:"anomaly,omitempty"`
}

// Check inspects a cylinder without mutating anything. It is the pre-scan
// used before an operation to surface the expiry band and trail anomalies.
func (s *Service) Check(ctx context.Context, cylinderKey string) (CylinderReport, error) {
	c, ok := s.store.FindCylinder(cylinderKey)
	if !ok {
		return CylinderReport{}, fmt.Errorf("%w: %s", ErrCylinderNotFound, cylinderKey)
	}
	return CylinderReport{
		Cylinder: c,
		Expiry:   safety.ClassifyExpiry(s.now(), c.ChargingExpiryDate),
		Anomaly:  anomaly.Detect(c, s.store.Transactions(), s.now()),
	}, nil
}
