package domain

import "time"

// Snapshot is a full copy of the synchronized data set at one point in time.
// It is the unit of local persistence and of archive export.
type Snapshot struct {
	Cylinders    []Cylinder    `json:"cylinders"`
	Customers    []Customer    `json:"customers"`
	Transactions []Transaction `json:"transactions"`
	SavedAt      time.Time     `json:"saved_at"`
}

// Clone returns a deep copy safe to retain across mutations.
func (s Snapshot) Clone() Snapshot {
	cp := Snapshot{SavedAt: s.SavedAt}
	if s.Cylinders != nil {
		cp.Cylinders = make([]Cylinder, len(s.Cylinders))
		for i, c := range s.Cylinders {
			cp.Cylinders[i] = c.Clone()
		}
	}
	if s.Customers != nil {
		cp.Customers = make([]Customer, len(s.Customers))
		for i, c := range s.Customers {
			cp.Customers[i] = c.Clone()
		}
	}
	if s.Transactions != nil {
		cp.Transactions = append([]Transaction(nil), s.Transactions...)
	}
	return cp
}
