package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"ms-orders/internal/models"
	"ms-orders/internal/voucher"
	vdb "ms-orders/internal/voucher/db"
)

type voucherFlags struct {
	discountType string
	value        string
	minOrder     int64
	maxDiscount  int64
	usageLimit   int
	userLimit    int
	validFor     time.Duration
}

func voucherCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voucher",
		Short: "Manage discount vouchers",
	}
	cmd.AddCommand(voucherCreateCmd())
	return cmd
}

func voucherCreateCmd() *cobra.Command {
	var f voucherFlags
	cmd := &cobra.Command{
		Use:   "create [code]",
		Short: "Create an active voucher",
		Long: `Create a voucher that is valid from now.

Examples:
  ordersctl voucher create SPRING10 --type percentage --value 10
  ordersctl voucher create WELCOME5 --type fixed --value 500 --user-limit 1 --valid-for 720h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := f.input(args[0])
			if err != nil {
				return err
			}

			log := cliLogger()
			defer log.Close()
			_, db, err := openDB(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer db.Close()

			v, err := voucher.NewService(&vdb.DB{Bun: db}, log).Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s voucher %s (%s %s)\n", color.GreenString("created"), v.Code, v.DiscountType, v.DiscountValue.String())
			return nil
		},
	}

	cmd.Flags().StringVarP(&f.discountType, "type", "t", string(models.DiscountPercentage), "percentage or fixed")
	cmd.Flags().StringVarP(&f.value, "value", "v", "", "percent off, or minor units off for fixed vouchers")
	cmd.Flags().Int64Var(&f.minOrder, "min-order", 0, "minimum order subtotal in minor units")
	cmd.Flags().Int64Var(&f.maxDiscount, "max-discount", 0, "cap on the discount in minor units (0 for none)")
	cmd.Flags().IntVar(&f.usageLimit, "usage-limit", 0, "total redemptions allowed (0 for unlimited)")
	cmd.Flags().IntVar(&f.userLimit, "user-limit", 0, "redemptions allowed per customer (0 for unlimited)")
	cmd.Flags().DurationVar(&f.validFor, "valid-for", 0, "expire the voucher after this long (0 for never)")
	_ = cmd.MarkFlagRequired("value")

	return cmd
}

func (f voucherFlags) input(code string) (voucher.CreateInput, error) {
	value, err := decimal.NewFromString(f.value)
	if err != nil {
		return voucher.CreateInput{}, fmt.Errorf("invalid --value %q", f.value)
	}
	in := voucher.CreateInput{
		Code:          code,
		DiscountType:  models.DiscountType(f.discountType),
		DiscountValue: value,
		MinOrderValue: f.minOrder,
	}
	if f.maxDiscount > 0 {
		in.MaxDiscountAmount = &f.maxDiscount
	}
	if f.usageLimit > 0 {
		in.UsageLimit = &f.usageLimit
	}
	if f.userLimit > 0 {
		in.UserLimit = &f.userLimit
	}
	if f.validFor > 0 {
		until := time.Now().UTC().Add(f.validFor)
		in.ValidUntil = &until
	}
	return in, nil
}
