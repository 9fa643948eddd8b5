package main

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-orders/internal/models"
)

func TestVoucherFlagsInput(t *testing.T) {
	t.Run("zero limits stay unset", func(t *testing.T) {
		in, err := voucherFlags{discountType: "percentage", value: "12.5"}.input("spring")
		require.NoError(t, err)
		assert.Equal(t, "spring", in.Code)
		assert.Equal(t, models.DiscountPercentage, in.DiscountType)
		assert.True(t, decimal.RequireFromString("12.5").Equal(in.DiscountValue))
		assert.Nil(t, in.MaxDiscountAmount)
		assert.Nil(t, in.UsageLimit)
		assert.Nil(t, in.UserLimit)
		assert.Nil(t, in.ValidUntil)
	})

	t.Run("limits and expiry", func(t *testing.T) {
		before := time.Now().UTC()
		in, err := voucherFlags{
			discountType: "fixed",
			value:        "500",
			maxDiscount:  1000,
			usageLimit:   50,
			userLimit:    1,
			validFor:     24 * time.Hour,
		}.input("WELCOME5")
		require.NoError(t, err)
		require.NotNil(t, in.MaxDiscountAmount)
		assert.Equal(t, int64(1000), *in.MaxDiscountAmount)
		require.NotNil(t, in.UsageLimit)
		assert.Equal(t, 50, *in.UsageLimit)
		require.NotNil(t, in.UserLimit)
		assert.Equal(t, 1, *in.UserLimit)
		require.NotNil(t, in.ValidUntil)
		assert.False(t, in.ValidUntil.Before(before.Add(24*time.Hour)))
	})

	t.Run("bad value", func(t *testing.T) {
		_, err := voucherFlags{discountType: "fixed", value: "ten"}.input("X")
		assert.Error(t, err)
	})
}
