package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rl1809/carbon-exchange/internal/adapter/payment"
)

// FundOptions holds flags for the fund command.
type FundOptions struct {
	*RootOptions
	Account string
	Amount  int64
}

func NewFundCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FundOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fund",
		Short: "Deposit payment funds into an account",
		Long: `Credit an account on the Redis-backed payment rail so it can buy listings.
Requires redis_addr (or CARBON_REDIS_ADDR) to be set. A server running
without Redis is funded through POST /api/v1/payments/{account}/deposit or
the Deposit gRPC method instead.

Examples:
  carbon-exchange fund --account buyer-1 --amount 10000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.RedisAddr == "" {
				return errors.New("fund requires a redis address; fund a memory-backed server through its deposit endpoint")
			}

			rdb, err := openRedis(cmd.Context(), cfg.RedisAddr)
			if err != nil {
				return err
			}
			defer rdb.Close()

			gw := payment.NewRedisGateway(rdb)
			if err := gw.Deposit(cmd.Context(), opts.Account, opts.Amount); err != nil {
				return err
			}
			balance, err := gw.Balance(cmd.Context(), opts.Account)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s balance: %d\n", opts.Account, balance)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Account, "account", "", "account to fund (required)")
	cmd.Flags().Int64Var(&opts.Amount, "amount", 0, "amount to deposit (required)")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}
