package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// GeneralUnit is the unit name every salary record carries.
const GeneralUnit = "General"

// DateLayout is the calendar date format used on the wire and in the slot.
const DateLayout = "2006-01-02"

const (
	ExpenseTypeUnit   ExpenseType = "unit"
	ExpenseTypeSalary ExpenseType = "salary"
)

const (
	CategoryElectricity Category = "electricity"
	CategoryWater       Category = "water"
	CategoryCleaning    Category = "cleaning"
	CategoryMaintenance Category = "maintenance"
	CategorySalary      Category = "salary"
	CategoryInternet    Category = "internet"
	CategoryOther       Category = "other"
)

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentPending PaymentStatus = "pending"
)

const (
	MethodCash   PaymentMethod = "cash"
	MethodBank   PaymentMethod = "bank"
	MethodWallet PaymentMethod = "wallet"
)

type (
	ExpenseType   string
	Category      string
	PaymentStatus string
	PaymentMethod string

	Date struct {
		time.Time
	}

	// ExpenseRecord is one logged financial event of the ledger.
	ExpenseRecord struct {
		ID             int64         `json:"id"`
		Date           Date          `json:"date"`
		ExpenseType    ExpenseType   `json:"expenseType"`
		UnitName       string        `json:"unitName"`
		Category       Category      `json:"category"`
		Description    string        `json:"description"`
		Amount         Money         `json:"amount"`
		PaymentStatus  PaymentStatus `json:"paymentStatus"`
		PaymentMethod  PaymentMethod `json:"paymentMethod"`
		Attachment     string        `json:"attachment,omitempty"`
		AttachmentName string        `json:"attachmentName,omitempty"`
	}
)

var (
	ErrInvalidDate          = errors.New("invalid date")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidExpenseType   = errors.New("invalid expense type")
	ErrInvalidCategory      = errors.New("invalid category")
	ErrInvalidPaymentStatus = errors.New("invalid payment status")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrMissingUnitName      = errors.New("unit name is required for unit expenses")
	ErrSentinelUnit         = errors.New("salary expenses must use the General unit")
)

// AllExpenseTypes returns the expense types in form order.
func AllExpenseTypes() []ExpenseType {
	return []ExpenseType{ExpenseTypeUnit, ExpenseTypeSalary}
}

func (t ExpenseType) IsValid() bool {
	switch t {
	case ExpenseTypeUnit, ExpenseTypeSalary:
		return true
	default:
		return false
	}
}

func (t ExpenseType) Label() string {
	switch t {
	case ExpenseTypeUnit:
		return "Unit Expense"
	case ExpenseTypeSalary:
		return "Salary"
	default:
		return string(t)
	}
}

// AllCategories returns the categories in form order.
func AllCategories() []Category {
	return []Category{
		CategoryElectricity,
		CategoryWater,
		CategoryCleaning,
		CategoryMaintenance,
		CategorySalary,
		CategoryInternet,
		CategoryOther,
	}
}

func (c Category) IsValid() bool {
	for _, v := range AllCategories() {
		if c == v {
			return true
		}
	}
	return false
}

func (c Category) Label() string {
	if c == "" {
		return ""
	}
	return strings.ToUpper(string(c[:1])) + string(c[1:])
}

func AllPaymentStatuses() []PaymentStatus {
	return []PaymentStatus{PaymentPaid, PaymentPending}
}

func (s PaymentStatus) IsValid() bool {
	return s == PaymentPaid || s == PaymentPending
}

func (s PaymentStatus) Label() string {
	switch s {
	case PaymentPaid:
		return "Paid"
	case PaymentPending:
		return "Pending"
	default:
		return string(s)
	}
}

func AllPaymentMethods() []PaymentMethod {
	return []PaymentMethod{MethodCash, MethodBank, MethodWallet}
}

func (m PaymentMethod) IsValid() bool {
	switch m {
	case MethodCash, MethodBank, MethodWallet:
		return true
	default:
		return false
	}
}

func (m PaymentMethod) Label() string {
	switch m {
	case MethodCash:
		return "Cash"
	case MethodBank:
		return "Bank Transfer"
	case MethodWallet:
		return "Wallet"
	default:
		return string(m)
	}
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

// Today returns the calendar date of now in its own location.
func Today(now time.Time) Date {
	return NewDate(now.Year(), int(now.Month()), now.Day())
}

// String returns the YYYY-MM-DD form, or "" for the zero date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// MonthKey returns the YYYY-MM prefix of the date.
func (d Date) MonthKey() string {
	if d.IsZero() {
		return ""
	}
	return d.Format("2006-01")
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// dateLayouts are tried in order when reading saved dates.
var dateLayouts = []string{DateLayout, "2006-1-2", time.RFC3339}

// UnmarshalJSON accepts YYYY-MM-DD, unpadded YYYY-M-D and RFC 3339. Anything
// else decodes as the zero Date so one bad row never makes the ledger
// unreadable; Validate reports it.
func (d *Date) UnmarshalJSON(data []byte) error {
	*d = Date{}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*d = NewDate(t.Year(), int(t.Month()), t.Day())
			return nil
		}
	}
	return nil
}

// Normalize forces the General unit on salary records and trims free text.
func (e ExpenseRecord) Normalize() ExpenseRecord {
	e.UnitName = strings.TrimSpace(e.UnitName)
	e.Description = strings.TrimSpace(e.Description)
	if e.ExpenseType == ExpenseTypeSalary {
		e.UnitName = GeneralUnit
	}
	return e
}

func (e ExpenseRecord) Validate() error {
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if !e.ExpenseType.IsValid() {
		return ErrInvalidExpenseType
	}
	switch e.ExpenseType {
	case ExpenseTypeUnit:
		if strings.TrimSpace(e.UnitName) == "" {
			return ErrMissingUnitName
		}
	case ExpenseTypeSalary:
		if e.UnitName != GeneralUnit {
			return ErrSentinelUnit
		}
	}
	if !e.Category.IsValid() {
		return ErrInvalidCategory
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if !e.PaymentStatus.IsValid() {
		return ErrInvalidPaymentStatus
	}
	if !e.PaymentMethod.IsValid() {
		return ErrInvalidPaymentMethod
	}
	if len(e.Description) > 500 {
		return errors.New("description too long (max 500 characters)")
	}
	return nil
}

// HasAttachment reports whether a supporting document reference is set.
func (e ExpenseRecord) HasAttachment() bool {
	return e.Attachment != ""
}
