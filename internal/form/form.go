// Package form turns raw expense form input into ledger records and submits
// them to the ledger as either a new entry or the update of the staged one.
package form

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"unitledger/internal/core"
	"unitledger/internal/ledger"
)

// Field names, shared by Input, Errors and the rendered form.
const (
	FieldDate          = "date"
	FieldExpenseType   = "expenseType"
	FieldUnitName      = "unitName"
	FieldCategory      = "category"
	FieldDescription   = "description"
	FieldAmount        = "amount"
	FieldPaymentStatus = "paymentStatus"
	FieldPaymentMethod = "paymentMethod"
	FieldAttachment    = "attachment"
)

const maxDescriptionLen = 500

// Input is the raw, uncoerced state of the form.
type Input struct {
	Date          string
	ExpenseType   string
	UnitName      string
	Category      string
	Description   string
	Amount        string
	PaymentStatus string
	PaymentMethod string

	// Attachment is an encoded data URI, see EncodeAttachment.
	Attachment     string
	AttachmentName string
	// RemoveAttachment drops the staged record's attachment on update.
	RemoveAttachment bool
}

// Errors maps field names to a user-facing message.
type Errors map[string]string

func (e Errors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e[k])
	}
	return "invalid expense: " + strings.Join(parts, "; ")
}

// Has reports whether field carries an error.
func (e Errors) Has(field string) bool {
	_, ok := e[field]
	return ok
}

// Defaults is the empty form: today, a paid cash unit expense for electricity.
func Defaults(now time.Time) Input {
	return Input{
		Date:          core.Today(now).String(),
		ExpenseType:   string(core.ExpenseTypeUnit),
		Category:      string(core.CategoryElectricity),
		PaymentStatus: string(core.PaymentPaid),
		PaymentMethod: string(core.MethodCash),
	}
}

// FromRecord pre-fills the form with a staged record.
func FromRecord(r core.ExpenseRecord) Input {
	return Input{
		Date:           r.Date.String(),
		ExpenseType:    string(r.ExpenseType),
		UnitName:       r.UnitName,
		Category:       string(r.Category),
		Description:    r.Description,
		Amount:         r.Amount.Decimal(),
		PaymentStatus:  string(r.PaymentStatus),
		PaymentMethod:  string(r.PaymentMethod),
		Attachment:     r.Attachment,
		AttachmentName: r.AttachmentName,
	}
}

// IsSalary reports whether the unit name field should be hidden.
func (in Input) IsSalary() bool {
	return strings.TrimSpace(in.ExpenseType) == string(core.ExpenseTypeSalary)
}

// Build coerces the input into a record. The returned record has no id.
func (in Input) Build() (core.ExpenseRecord, Errors) {
	errs := Errors{}
	var r core.ExpenseRecord

	if strings.TrimSpace(in.Date) == "" {
		errs[FieldDate] = "Date is required"
	} else if d, err := core.ParseDate(in.Date); err != nil {
		errs[FieldDate] = "Date must be YYYY-MM-DD"
	} else {
		r.Date = d
	}

	r.ExpenseType = core.ExpenseType(strings.TrimSpace(in.ExpenseType))
	if !r.ExpenseType.IsValid() {
		errs[FieldExpenseType] = "Choose unit expense or salary"
	}

	switch r.ExpenseType {
	case core.ExpenseTypeSalary:
		r.UnitName = core.GeneralUnit
	default:
		r.UnitName = strings.TrimSpace(in.UnitName)
		if r.ExpenseType == core.ExpenseTypeUnit && r.UnitName == "" {
			errs[FieldUnitName] = "Unit name is required"
		}
	}

	r.Category = core.Category(strings.TrimSpace(in.Category))
	if !r.Category.IsValid() {
		errs[FieldCategory] = "Choose a category"
	}

	r.Description = strings.TrimSpace(in.Description)
	if len(r.Description) > maxDescriptionLen {
		errs[FieldDescription] = fmt.Sprintf("Description is limited to %d characters", maxDescriptionLen)
	}

	if strings.TrimSpace(in.Amount) == "" {
		errs[FieldAmount] = "Amount is required"
	} else if m, err := core.ParseMoney(in.Amount); err != nil {
		errs[FieldAmount] = "Amount must be a non-negative number"
	} else {
		r.Amount = m
	}

	r.PaymentStatus = core.PaymentStatus(strings.TrimSpace(in.PaymentStatus))
	if !r.PaymentStatus.IsValid() {
		errs[FieldPaymentStatus] = "Choose paid or pending"
	}
	r.PaymentMethod = core.PaymentMethod(strings.TrimSpace(in.PaymentMethod))
	if !r.PaymentMethod.IsValid() {
		errs[FieldPaymentMethod] = "Choose a payment method"
	}

	if in.Attachment != "" && !IsAttachmentRef(in.Attachment) {
		errs[FieldAttachment] = "Attachment is not readable"
	} else {
		r.Attachment = in.Attachment
		r.AttachmentName = cleanFileName(in.AttachmentName)
	}

	if len(errs) > 0 {
		return core.ExpenseRecord{}, errs
	}
	return r, nil
}

// Adder is the part of the ledger Create needs.
type Adder interface {
	Add(ctx context.Context, candidate core.ExpenseRecord) (core.ExpenseRecord, error)
}

// Store is the part of the ledger a submit needs.
type Store interface {
	Adder
	Editing() (core.ExpenseRecord, bool)
	Update(ctx context.Context, record core.ExpenseRecord) error
}

var _ Store = (*ledger.Store)(nil)

// Result describes an applied submit.
type Result struct {
	Record  core.ExpenseRecord
	Updated bool
	// Reset is the form state to show next.
	Reset Input
}

// Submit validates in and writes it to store. With a staged edit the staged
// record is replaced, otherwise a new record is added.
//
// Validation failures return Errors and leave store untouched. A
// *ledger.PersistError comes back together with a valid Result since the
// change was applied.
func Submit(ctx context.Context, store Store, in Input, now time.Time) (Result, error) {
	record, errs := in.Build()
	if errs != nil {
		return Result{}, errs
	}

	staged, editing := store.Editing()
	if !editing {
		return add(ctx, store, record, now)
	}

	record.ID = staged.ID
	if record.Attachment == "" && !in.RemoveAttachment {
		record.Attachment = staged.Attachment
		record.AttachmentName = staged.AttachmentName
	}
	err := store.Update(ctx, record)
	if err != nil && !ledger.IsPersistError(err) {
		return Result{}, err
	}
	return Result{Record: record, Updated: true, Reset: Defaults(now)}, err
}

// Create validates in and always adds it as a new record, whatever edit is
// staged. Callers that cannot see the edit stage use it instead of Submit.
func Create(ctx context.Context, store Adder, in Input, now time.Time) (Result, error) {
	record, errs := in.Build()
	if errs != nil {
		return Result{}, errs
	}
	return add(ctx, store, record, now)
}

func add(ctx context.Context, store Adder, record core.ExpenseRecord, now time.Time) (Result, error) {
	saved, err := store.Add(ctx, record)
	if err != nil && !ledger.IsPersistError(err) {
		return Result{}, err
	}
	return Result{Record: saved, Reset: Defaults(now)}, err
}

// IsValidationError reports whether err came from Build.
func IsValidationError(err error) bool {
	var errs Errors
	return errors.As(err, &errs)
}
