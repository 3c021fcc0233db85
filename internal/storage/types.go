package storage

import (
	"fmt"
	"time"

	"github.com/pitcar/leadtime/internal/leadtime"
)

type Category string

const (
	CategoryMaintenance Category = "maintenance"
	CategoryRepair      Category = "repair"
)

type Subcategory string

const (
	SubcategoryTuneUp                  Subcategory = "tune_up"
	SubcategoryTuneUpAddition          Subcategory = "tune_up_addition"
	SubcategoryPeriodicService         Subcategory = "periodic_service"
	SubcategoryPeriodicServiceAddition Subcategory = "periodic_service_addition"
	SubcategoryGeneralRepair           Subcategory = "general_repair"
	SubcategoryOilChange               Subcategory = "oil_change"
)

var subcategories = map[Category][]Subcategory{
	CategoryMaintenance: {
		SubcategoryTuneUp,
		SubcategoryTuneUpAddition,
		SubcategoryPeriodicService,
		SubcategoryPeriodicServiceAddition,
		SubcategoryOilChange,
	},
	CategoryRepair: {SubcategoryGeneralRepair},
}

// ValidateCategory accepts an empty category (not chosen yet) or a known
// category with one of its subcategories.
func ValidateCategory(c Category, sub Subcategory) error {
	if c == "" {
		if sub != "" {
			return fmt.Errorf("subcategory %q given without category", sub)
		}
		return nil
	}
	allowed, ok := subcategories[c]
	if !ok {
		return fmt.Errorf("unknown category %q", c)
	}
	if sub == "" {
		return nil
	}
	for _, s := range allowed {
		if s == sub {
			return nil
		}
	}
	return fmt.Errorf("subcategory %q does not belong to %q", sub, c)
}

type Order struct {
	ID          string              `json:"id"`
	Category    Category            `json:"category"`
	Subcategory Subcategory         `json:"subcategory,omitempty"`
	MechanicIDs []string            `json:"mechanic_ids,omitempty"`
	Notes       string              `json:"notes,omitempty"`
	Timestamps  leadtime.Timestamps `json:"timestamps"`
	Derived     leadtime.Derived    `json:"derived"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Computable reports whether the order has a finished service window.
func (o Order) Computable() bool {
	ts := o.Timestamps
	return ts.ServiceStart != nil && ts.ServiceEnd != nil
}

type HistoryEntry struct {
	OrderID   string    `json:"order_id"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Role      string    `json:"role,omitempty"`
	Message   string    `json:"message"`
	ChangedAt time.Time `json:"changed_at"`
}

type Attendance struct {
	EmployeeID string     `json:"employee_id"`
	CheckIn    time.Time  `json:"check_in"`
	CheckOut   *time.Time `json:"check_out,omitempty"`
}

type ListFilter struct {
	Stage       leadtime.Stage
	Category    Category
	ArrivedFrom *time.Time
	ArrivedTo   *time.Time
	Limit       int
}
