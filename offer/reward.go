package offer

// ContributionReward is what the buyer saves against the listed price:
// max(0, propertyPrice - totalAmountPayable). Derived once, at acceptance.
func ContributionReward(propertyPrice, totalAmountPayable Amount) Amount {
	if reward := propertyPrice - totalAmountPayable; reward > 0 {
		return reward
	}
	return 0
}
