package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alecsomers1980/aloe-signs-website/internal/adapters/jsonfile"
	"github.com/alecsomers1980/aloe-signs-website/internal/adapters/payfast"
	"github.com/alecsomers1980/aloe-signs-website/internal/adapters/security"
	"github.com/alecsomers1980/aloe-signs-website/internal/app/bootstrap"
	"github.com/alecsomers1980/aloe-signs-website/internal/domain"
	"github.com/alecsomers1980/aloe-signs-website/internal/logging"
	"github.com/alecsomers1980/aloe-signs-website/internal/ports"
)

func hashPasswordCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for ADMIN_PASSWORD_HASH",
		Long: `Hash an admin password for the ADMIN_PASSWORD_HASH setting.

The password is read from the first argument, or from stdin when no
argument is given so it stays out of shell history.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := argOrStdin(cmd, args)
			if err != nil {
				return err
			}
			if password == "" {
				return errors.New("password must not be empty")
			}
			hash, err := security.NewBcryptHasher(cost).Hash(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 12, "bcrypt cost")
	return cmd
}

func signCmd() *cobra.Command {
	var passphrase string
	var appendSignature bool
	cmd := &cobra.Command{
		Use:   "sign [form-body]",
		Short: "Compute the PayFast ITN signature of a URL-encoded form body",
		Long: `Compute the PayFast MD5 signature for a form body, for example to
replay an ITN against a local API:

  ordersctl sign --passphrase secret 'm_payment_id=abc&payment_status=COMPLETE' --append |
    curl -X POST --data-binary @- localhost:8080/api/payfast/notify

Every field is signed in the order given, empty ones included. Any
signature field already in the body is ignored.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := argOrStdin(cmd, args)
			if err != nil {
				return err
			}
			n, err := payfast.ParseNotification([]byte(body))
			if err != nil {
				return err
			}
			sig := payfast.ITNSignature(n.Fields, passphrase)
			if appendSignature {
				fmt.Fprintf(cmd.OutOrStdout(), "%s&signature=%s\n", n.Fields.ITNParamString(), sig)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), sig)
			return nil
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "merchant passphrase (PAYFAST_PASSPHRASE)")
	cmd.Flags().BoolVar(&appendSignature, "append", false, "print the body with the signature field appended")
	return cmd
}

func importCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import [orders.json]",
		Short: "Copy orders from a storefront orders.json file into the configured store",
		Long: `Copy every order from an orders.json file into the store selected by
the config file and environment (STORE_DRIVER). Orders that already exist
are skipped, so the import can be re-run safely.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := bootstrap.LoadConfig(configPath)
			if err != nil {
				return err
			}
			logger := logging.New(logging.Config{Level: "warn", Format: "console"}, cmd.ErrOrStderr())

			if _, err := os.Stat(args[0]); err != nil {
				return err
			}
			source := jsonfile.NewRepository(args[0])
			orders, _, err := source.List(cmd.Context(), ports.OrderQuery{})
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "%d orders would be imported into the %s store\n", len(orders), cfg.StoreDriver)
				return nil
			}

			dest, err := bootstrap.OpenStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer dest.Close()

			res, err := importOrders(cmd.Context(), dest, orders, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d orders, skipped %d existing\n", res.imported, res.skipped)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "count the orders without writing them")
	return cmd
}

type importResult struct {
	imported int
	skipped  int
}

// importOrders writes orders oldest first and then moves each day's sequence
// past the highest imported order number so new orders do not collide.
func importOrders(ctx context.Context, dest ports.OrderRepository, orders []domain.Order, logger *slog.Logger) (importResult, error) {
	var res importResult
	highest := map[string]int{}
	for i := len(orders) - 1; i >= 0; i-- {
		order := orders[i]
		if err := dest.Create(ctx, order); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				logger.Warn("order already exists, skipping", "order_number", order.OrderNumber)
				res.skipped++
				continue
			}
			return res, fmt.Errorf("import %s: %w", order.OrderNumber, err)
		}
		res.imported++
		if day, seq, ok := parseOrderNumber(order.OrderNumber); ok && seq > highest[day] {
			highest[day] = seq
		}
	}

	for day, seq := range highest {
		t, err := time.Parse("20060102", day)
		if err != nil {
			continue
		}
		if err := dest.EnsureOrderSequence(ctx, t, seq); err != nil {
			return res, fmt.Errorf("advance sequence for %s: %w", day, err)
		}
	}
	return res, nil
}

func parseOrderNumber(number string) (day string, seq int, ok bool) {
	parts := strings.Split(number, "-")
	if len(parts) != 3 || parts[0] != "ORD" || len(parts[1]) != 8 {
		return "", 0, false
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", 0, false
	}
	return parts[1], n, true
}

func argOrStdin(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return strings.TrimSpace(args[0]), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(line), nil
}
