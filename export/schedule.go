// Package export renders an offer's payment schedule as an xlsx workbook.
package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/warp/offer-engine/offer"
)

const (
	ScheduleSheet = "Schedule"
	SummarySheet  = "Summary"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type scheduleRow struct {
	Index      int
	Entry      offer.ScheduleEntry
	Cumulative offer.Amount
	State      string
}

type scheduleColumn struct {
	Header string
	Value  func(r scheduleRow) any
}

var scheduleColumns = []scheduleColumn{
	{Header: "#", Value: func(r scheduleRow) any { return r.Index }},
	{Header: "Due date", Value: func(r scheduleRow) any { return r.Entry.Date.String() }},
	{Header: "Amount", Value: func(r scheduleRow) any { return int64(r.Entry.Amount) }},
	{Header: "Cumulative", Value: func(r scheduleRow) any { return int64(r.Cumulative) }},
	{Header: "Status", Value: func(r scheduleRow) any { return r.State }},
}

// Entry states shown in the Status column
const (
	StatePaid     = "Paid"
	StateDue      = "Due"
	StateUpcoming = "Upcoming"
)

// ScheduleWorkbook builds a workbook with the installment schedule and a
// summary of payments so far. status may be nil for offers that were never
// accepted; every entry is then upcoming or due.
func ScheduleWorkbook(o *offer.Offer, entries []offer.ScheduleEntry, status *offer.PaymentStatus, today offer.Date) ([]byte, error) {
	var paid offer.Amount
	if status != nil {
		paid = status.TotalPaid
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), ScheduleSheet); err != nil {
		return nil, fmt.Errorf("rename schedule sheet: %w", err)
	}
	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   "Payment schedule " + o.ReferenceCode,
		Subject: string(o.ID),
		Creator: "offer-engine",
	}); err != nil {
		return nil, fmt.Errorf("set document properties: %w", err)
	}

	for i, col := range scheduleColumns {
		if err := setCell(f, ScheduleSheet, i+1, 1, col.Header); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}

	var cumulative offer.Amount
	for i, e := range entries {
		cumulative += e.Amount
		row := scheduleRow{Index: i + 1, Entry: e, Cumulative: cumulative, State: entryState(e, cumulative, paid, today)}
		for colIdx, col := range scheduleColumns {
			if err := setCell(f, ScheduleSheet, colIdx+1, i+2, col.Value(row)); err != nil {
				return nil, fmt.Errorf("write row %d: %w", i+1, err)
			}
		}
	}

	if _, err := f.NewSheet(SummarySheet); err != nil {
		return nil, fmt.Errorf("add summary sheet: %w", err)
	}
	for i, kv := range summary(o, status, paid) {
		for colIdx, v := range kv {
			if err := setCell(f, SummarySheet, colIdx+1, i+1, v); err != nil {
				return nil, fmt.Errorf("write summary: %w", err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func setCell(f *excelize.File, sheet string, col, row int, v any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, v)
}

// FileName is the download name for an offer's workbook.
func FileName(o *offer.Offer) string {
	name := o.ReferenceCode
	if name == "" {
		name = string(o.ID)
	}
	return "schedule-" + name + ".xlsx"
}

func entryState(e offer.ScheduleEntry, cumulative, paid offer.Amount, today offer.Date) string {
	switch {
	case cumulative <= paid:
		return StatePaid
	case e.Date.BeforeOrEqual(today):
		return StateDue
	default:
		return StateUpcoming
	}
}

func summary(o *offer.Offer, status *offer.PaymentStatus, paid offer.Amount) [][2]any {
	outstanding := o.TotalAmountPayable - paid
	if outstanding < 0 {
		outstanding = 0
	}
	rows := [][2]any{
		{"Reference", o.ReferenceCode},
		{"Status", string(o.Status)},
		{"Total payable", int64(o.TotalAmountPayable)},
		{"Paid to date", int64(paid)},
		{"Outstanding", int64(outstanding)},
	}
	if status != nil && status.Active != nil {
		rows = append(rows,
			[2]any{"Next payment", int64(status.Active.ExpectedAmount)},
			[2]any{"Next payment due", status.Active.ExpiresOn.String()},
		)
	}
	return rows
}
