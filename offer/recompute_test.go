package offer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/offer-engine/offer"
)

// =============================================================================
// COMPUTE DUE - Pure selection rules
// =============================================================================

func TestComputeDue_OpenWindowsNothingPaid(t *testing.T) {
	// GIVEN: 100000/50000/10000 every 30 days, nothing paid
	// WHEN: Today is handover + 31 days
	// THEN: Entries at D and D+30 are due: 60000, expiring on D

	due := offer.ComputeDue(terms(100000, 50000, 10000, 30), 0, day(31))

	assert.Equal(t, offer.Amount(60000), due.ExpectedTotal)
	assert.Equal(t, offer.Amount(60000), due.ExpectedAmount)
	assert.Equal(t, day(0), due.ExpiresOn)
	assert.Len(t, due.Selected, 2)
	assert.False(t, due.Settled)
}

func TestComputeDue_WindowOpensOnDueDate(t *testing.T) {
	// GIVEN: 100000/50000/10000 every 30 days, nothing paid
	// WHEN: Today is D+31, then D+59, then D+60
	// THEN: D+60 is only selected once its own date arrives, not a frequency early

	o := terms(100000, 50000, 10000, 30)

	for _, today := range []int{31, 59} {
		due := offer.ComputeDue(o, 0, day(today))
		require.Len(t, due.Selected, 2, "day %d", today)
		assert.True(t, due.Selected[1].Date.Equal(day(30)), "day %d", today)
		assert.Equal(t, offer.Amount(60000), due.ExpectedAmount, "day %d", today)
	}

	due := offer.ComputeDue(o, 0, day(60))
	require.Len(t, due.Selected, 3)
	assert.True(t, due.Selected[2].Date.Equal(day(60)))
	assert.Equal(t, offer.Amount(70000), due.ExpectedAmount)
}

func TestComputeDue_FirstMilestoneAlwaysSelected(t *testing.T) {
	// GIVEN: Nothing paid and handover still a month away
	// THEN: The initial payment is what's due

	due := offer.ComputeDue(terms(100000, 50000, 10000, 30), 0, day(-30))

	assert.Equal(t, offer.Amount(50000), due.ExpectedAmount)
	assert.Equal(t, day(0), due.ExpiresOn)
}

func TestComputeDue_AheadOfSchedule_UsesPlaceholder(t *testing.T) {
	// GIVEN: The initial payment is paid before handover
	// WHEN: Recomputed
	// THEN: The periodic amount is due on the next unopened milestone

	due := offer.ComputeDue(terms(100000, 50000, 10000, 30), 50000, day(-10))

	assert.Equal(t, offer.Amount(10000), due.ExpectedAmount)
	assert.Equal(t, day(30), due.ExpiresOn)
}

func TestComputeDue_PartialPayment(t *testing.T) {
	due := offer.ComputeDue(terms(100000, 50000, 10000, 30), 20000, day(31))

	assert.Equal(t, offer.Amount(40000), due.ExpectedAmount)
	assert.Equal(t, day(0), due.ExpiresOn)
}

func TestComputeDue_CappedByOutstanding(t *testing.T) {
	// GIVEN: Overshooting schedule (4 x 15000 for 50000) and 95000 paid
	// WHEN: Every window is open
	// THEN: Only the 5000 outstanding is asked for

	due := offer.ComputeDue(terms(100000, 50000, 15000, 30), 95000, day(365))

	assert.Equal(t, offer.Amount(5000), due.ExpectedAmount)
}

func TestComputeDue_Settled(t *testing.T) {
	due := offer.ComputeDue(terms(100000, 50000, 10000, 30), 100000, day(31))

	assert.True(t, due.Settled)
	assert.Empty(t, due.Selected)
}

func TestComputeDue_Idempotent(t *testing.T) {
	o := terms(100000, 50000, 10000, 30)

	first := offer.ComputeDue(o, 35000, day(64))
	second := offer.ComputeDue(o, 35000, day(64))

	assert.Equal(t, first, second)
}
