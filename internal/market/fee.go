package market

// SplitFee divides price into the administrator's fee and the seller's
// proceeds. Both shares are floored independently, so fee+proceeds may fall
// short of price; the remainder stays with the escrow account.
//
// rate must be within [0, 100] and price non-negative.
func SplitFee(price, rate int64) (fee, proceeds, remainder int64) {
	fee = floorPercent(price, rate)
	proceeds = floorPercent(price, 100-rate)
	return fee, proceeds, price - fee - proceeds
}

// floorPercent computes price*pct/100 without overflowing int64.
func floorPercent(price, pct int64) int64 {
	return price/100*pct + price%100*pct/100
}
