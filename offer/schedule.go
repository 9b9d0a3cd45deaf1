/*
schedule.go - Payment schedule generation

PURPOSE:
  Turns offer terms into the ordered list of installments the buyer owes.
  Pure function: no I/O, no clock, identical output for identical input.

ALGORITHM:
  1. Initial payment is due on the hand-over date
  2. remaining = total - initial
  3. periods = remaining / periodic (exact decimal division)
  4. 0 < periods < 1: a single entry for the whole remainder, one frequency
     after hand-over
  5. otherwise ceil(periods) entries of the periodic amount, one frequency
     apart

OVERSHOOT:
  When remaining is not a multiple of the periodic payment the last full
  entry pushes the schedule total above totalAmountPayable. That is current
  behavior: the ledger-driven expected amount in recompute.go caps what the
  buyer is asked for, not the schedule.

  total=100000 initial=50000 periodic=10000 frequency=30
    D      50000
    D+30   10000
    ...
    D+150  10000   (5 exact periods)

  total=100000 initial=50000 periodic=15000
    D+30..D+120 4 x 15000 = 60000 (overshoot 10000)
*/
package offer

import (
	"github.com/shopspring/decimal"
)

// GenerateSchedule returns the chronological installment list for o.
func GenerateSchedule(o *Offer) []ScheduleEntry {
	entries := []ScheduleEntry{{Date: o.HandOverDate, Amount: o.InitialPayment}}

	remaining := o.TotalAmountPayable - o.InitialPayment
	if remaining <= 0 || o.PeriodicPayment <= 0 || o.PaymentFrequency <= 0 {
		return entries
	}

	periods := decimal.NewFromInt(int64(remaining)).Div(decimal.NewFromInt(int64(o.PeriodicPayment)))

	if periods.LessThan(decimal.NewFromInt(1)) {
		return append(entries, ScheduleEntry{
			Date:   o.HandOverDate.AddDays(o.PaymentFrequency),
			Amount: remaining,
		})
	}

	n := int(periods.Ceil().IntPart())
	for i := 1; i <= n; i++ {
		entries = append(entries, ScheduleEntry{
			Date:   o.HandOverDate.AddDays(o.PaymentFrequency * i),
			Amount: o.PeriodicPayment,
		})
	}
	return entries
}

// ScheduleTotal sums the amounts of a schedule.
func ScheduleTotal(entries []ScheduleEntry) Amount {
	var total Amount
	for _, e := range entries {
		total += e.Amount
	}
	return total
}
