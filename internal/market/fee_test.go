package market

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitFee(t *testing.T) {
	tests := []struct {
		name                     string
		price, rate              int64
		fee, proceeds, remainder int64
	}{
		{name: "MultipleOfTwenty", price: 1000, rate: 5, fee: 50, proceeds: 950},
		{name: "NotMultipleOfTwenty", price: 1001, rate: 5, fee: 50, proceeds: 950, remainder: 1},
		{name: "BelowOneFeeUnit", price: 19, rate: 5, fee: 0, proceeds: 18, remainder: 1},
		{name: "ZeroPrice", price: 0, rate: 5},
		{name: "ZeroRate", price: 123, rate: 0, proceeds: 123},
		{name: "FullRate", price: 123, rate: 100, fee: 123},
		{name: "HalfRate", price: 3, rate: 50, fee: 1, proceeds: 1, remainder: 1},
		{name: "NoOverflow", price: math.MaxInt64, rate: 5, fee: 461168601842738790, proceeds: 8762203435012037016, remainder: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee, proceeds, remainder := SplitFee(tt.price, tt.rate)
			assert.Equal(t, tt.fee, fee, "fee")
			assert.Equal(t, tt.proceeds, proceeds, "proceeds")
			assert.Equal(t, tt.remainder, remainder, "remainder")
			assert.Equal(t, tt.price, fee+proceeds+remainder)
		})
	}
}

func TestSplitFee_MatchesFloorDivision(t *testing.T) {
	for price := int64(0); price <= 500; price++ {
		for _, rate := range []int64{0, 1, 5, 33, 50, 99, 100} {
			fee, proceeds, _ := SplitFee(price, rate)
			assert.Equal(t, price*rate/100, fee)
			assert.Equal(t, price*(100-rate)/100, proceeds)
			if price%20 == 0 && rate == 5 {
				assert.Equal(t, price, fee+proceeds)
			}
			assert.LessOrEqual(t, fee+proceeds, price)
		}
	}
}
