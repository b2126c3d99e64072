// Package views computes the derived, never-persisted views of the ledger:
// filtered subsets, their totals and the summary cards. Every function is pure
// and leaves its input untouched.
package views

import (
	"sort"
	"strings"

	"unitledger/internal/core"
)

// AllUnits is the unit filter wildcard.
const AllUnits = "all"

// Filter selects records by unit name and by month. Month is YYYY-MM, or a
// bare YYYY for a whole year.
type Filter struct {
	Unit  string
	Month string
}

// NewFilter trims its inputs and maps an empty unit to the wildcard.
func NewFilter(unit, month string) Filter {
	unit = strings.TrimSpace(unit)
	if unit == "" {
		unit = AllUnits
	}
	return Filter{Unit: unit, Month: strings.TrimSpace(month)}
}

// IsZero reports whether the filter lets every record through.
func (f Filter) IsZero() bool {
	return (f.Unit == "" || f.Unit == AllUnits) && f.Month == ""
}

// Matches reports whether r passes the filter.
func (f Filter) Matches(r core.ExpenseRecord) bool {
	if f.Unit != "" && f.Unit != AllUnits && r.UnitName != f.Unit {
		return false
	}
	if f.Month != "" && !strings.HasPrefix(r.Date.MonthKey(), f.Month) {
		return false
	}
	return true
}

// UniqueUnits returns the wildcard followed by every distinct non-empty unit
// name in first-encounter order.
func UniqueUnits(records []core.ExpenseRecord) []string {
	seen := make(map[string]struct{}, len(records))
	units := []string{AllUnits}
	for _, r := range records {
		if r.UnitName == "" {
			continue
		}
		if _, ok := seen[r.UnitName]; ok {
			continue
		}
		seen[r.UnitName] = struct{}{}
		units = append(units, r.UnitName)
	}
	return units
}

// FilteredExpenses returns the records matching unit and month, most recent
// date first. Records sharing a date keep their relative order.
func FilteredExpenses(records []core.ExpenseRecord, unit, month string) []core.ExpenseRecord {
	return Apply(records, NewFilter(unit, month))
}

// Apply is FilteredExpenses with a prepared Filter.
func Apply(records []core.ExpenseRecord, f Filter) []core.ExpenseRecord {
	out := make([]core.ExpenseRecord, 0, len(records))
	for _, r := range records {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	SortByDateDesc(out)
	return out
}

// SortByDateDesc sorts in place, newest first, stable among equal dates.
func SortByDateDesc(records []core.ExpenseRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Date.After(records[j].Date.Time)
	})
}

// TotalAmount sums the amounts of records.
func TotalAmount(records []core.ExpenseRecord) core.Money {
	var total core.Money
	for _, r := range records {
		total = total.Add(r.Amount)
	}
	return total
}

// SummaryTotals computes the grand, unit and salary totals over the whole,
// unfiltered collection. Records of an unknown type count toward the grand
// total only.
func SummaryTotals(records []core.ExpenseRecord) core.Summary {
	var s core.Summary
	for _, r := range records {
		s.Total = s.Total.Add(r.Amount)
		switch r.ExpenseType {
		case core.ExpenseTypeUnit:
			s.UnitTotal = s.UnitTotal.Add(r.Amount)
		case core.ExpenseTypeSalary:
			s.SalaryTotal = s.SalaryTotal.Add(r.Amount)
		}
	}
	return s
}

// ByCategory groups records by category, largest amount first, ties by name.
func ByCategory(records []core.ExpenseRecord) []core.CategoryAmount {
	idx := make(map[core.Category]int)
	var out []core.CategoryAmount
	for _, r := range records {
		i, ok := idx[r.Category]
		if !ok {
			i = len(out)
			idx[r.Category] = i
			out = append(out, core.CategoryAmount{Category: r.Category})
		}
		out[i].Amount = out[i].Amount.Add(r.Amount)
		out[i].Count++
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Amount.Cents != out[j].Amount.Cents {
			return out[i].Amount.Cents > out[j].Amount.Cents
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// Ledger bundles the views one page render needs.
type Ledger struct {
	Filter   Filter
	Units    []string
	Items    []core.ExpenseRecord
	Total    core.Money
	Summary  core.Summary
	Category []core.CategoryAmount
}

// Build computes every view for records under f.
func Build(records []core.ExpenseRecord, f Filter) Ledger {
	items := Apply(records, f)
	return Ledger{
		Filter:   f,
		Units:    UniqueUnits(records),
		Items:    items,
		Total:    TotalAmount(items),
		Summary:  SummaryTotals(records),
		Category: ByCategory(items),
	}
}
