package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"unitledger/internal/core"
	"unitledger/internal/log"
)

// DefaultSlotName is the slot the ledger lives in unless configured otherwise.
const DefaultSlotName = "expenses"

// Adapter loads and saves the whole expense collection as a JSON array.
type Adapter struct {
	slot   Slot
	name   string
	logger *log.Logger
}

func NewAdapter(slot Slot, name string, logger *log.Logger) *Adapter {
	if name == "" {
		name = DefaultSlotName
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Adapter{slot: slot, name: name, logger: logger.WithComponent(log.ComponentStorage)}
}

// Name returns the slot name.
func (a *Adapter) Name() string {
	return a.name
}

// Load returns the saved collection. A missing, unreadable or malformed slot
// yields an empty collection; the cause is logged, never returned.
func (a *Adapter) Load(ctx context.Context) []core.ExpenseRecord {
	data, err := a.slot.Read(ctx, a.name)
	if errors.Is(err, ErrSlotEmpty) {
		a.logger.InfoContext(ctx, "No saved ledger, starting empty", log.FieldSlot, a.name)
		return []core.ExpenseRecord{}
	}
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to read saved ledger, starting empty",
			log.NewFields().WithSlot(a.name).WithError(err).WithErrorType(log.ErrorTypeStorage).WithOperation(log.OpLoad).ToSlice()...)
		return []core.ExpenseRecord{}
	}

	records, skipped, err := Decode(data)
	if err != nil {
		a.logger.WarnContext(ctx, "Saved ledger is malformed, starting empty",
			log.NewFields().WithSlot(a.name).WithError(err).WithErrorType(log.ErrorTypeDecode).WithOperation(log.OpLoad).ToSlice()...)
		return []core.ExpenseRecord{}
	}
	if skipped > 0 {
		a.logger.WarnContext(ctx, "Skipped unreadable saved records",
			log.FieldSlot, a.name, "skipped", skipped, log.FieldErrorType, log.ErrorTypeDecode)
	}
	if undated := countUndated(records); undated > 0 {
		a.logger.WarnContext(ctx, "Saved records with unreadable dates",
			log.FieldSlot, a.name, "undated", undated, log.FieldErrorType, log.ErrorTypeDecode)
	}

	a.logger.InfoContext(ctx, "Ledger loaded", log.FieldSlot, a.name, log.FieldRecordCount, len(records))
	return records
}

// Save overwrites the slot with the entire collection.
func (a *Adapter) Save(ctx context.Context, records []core.ExpenseRecord) error {
	data, err := Encode(records)
	if err != nil {
		return err
	}
	if err := a.slot.Write(ctx, a.name, data); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	a.logger.DebugContext(ctx, "Ledger saved", log.FieldSlot, a.name, log.FieldRecordCount, len(records))
	return nil
}

// Encode renders the collection in slot format. A nil collection encodes as [].
func Encode(records []core.ExpenseRecord) ([]byte, error) {
	if records == nil {
		records = []core.ExpenseRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode ledger: %w", err)
	}
	return data, nil
}

// Decode parses slot content. Anything other than a JSON array is an error;
// the literal null decodes as empty. Array elements that are not record
// objects are dropped and counted in skipped.
func Decode(data []byte) (records []core.ExpenseRecord, skipped int, err error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []core.ExpenseRecord{}, 0, nil
	}
	if trimmed[0] != '[' {
		return nil, 0, fmt.Errorf("decode ledger: expected JSON array")
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(trimmed, &rows); err != nil {
		return nil, 0, fmt.Errorf("decode ledger: %w", err)
	}

	records = make([]core.ExpenseRecord, 0, len(rows))
	for _, row := range rows {
		row = bytes.TrimSpace(row)
		if len(row) == 0 || row[0] != '{' {
			skipped++
			continue
		}
		var r core.ExpenseRecord
		if err := json.Unmarshal(row, &r); err != nil {
			skipped++
			continue
		}
		records = append(records, r)
	}
	return records, skipped, nil
}

func countUndated(records []core.ExpenseRecord) int {
	n := 0
	for _, r := range records {
		if r.Date.IsZero() {
			n++
		}
	}
	return n
}
