package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhle/coursedesk/internal/logger"
)

func newCouponCmd(opts *rootOptions) *cobra.Command {
	var clearCode bool

	cmd := &cobra.Command{
		Use:   "coupon [code]",
		Short: "Show or save the coupon code for the next checkout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, opts, logger.Discard())
			if err != nil {
				return err
			}
			defer e.Close()

			out := cmd.OutOrStdout()
			switch {
			case clearCode:
				if err := e.session.SetPendingCoupon(ctx, ""); err != nil {
					return err
				}
				fmt.Fprintln(out, "Coupon cleared")
			case len(args) == 1:
				code := strings.ToUpper(strings.TrimSpace(args[0]))
				if code == "" {
					return fmt.Errorf("coupon code is empty")
				}
				if err := e.session.SetPendingCoupon(ctx, code); err != nil {
					return err
				}
				fmt.Fprintf(out, "Coupon %s saved\n", code)
			default:
				code, err := e.session.PendingCoupon(ctx)
				if err != nil {
					return err
				}
				if code == "" {
					fmt.Fprintln(out, "No coupon saved")
					return nil
				}
				fmt.Fprintln(out, code)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&clearCode, "clear", false, "remove the saved coupon")
	return cmd
}
