package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger/policy"
)

// ChartSeeder creates missing chart rows and checks the posting accounts.
type ChartSeeder interface {
	EnsureChart(ctx context.Context, tenantID int64, chart []ledger.ChartAccount) (int, error)
	VerifyChart(ctx context.Context, tenantID int64, codes []string) error
}

// SeedCLI seeds a tenant's chart of accounts.
type SeedCLI struct {
	accounts ChartSeeder
	out      io.Writer
}

// NewSeedCLI constructs the seeding helper writing progress to out.
func NewSeedCLI(accounts ChartSeeder, out io.Writer) *SeedCLI {
	if out == nil {
		out = io.Discard
	}
	return &SeedCLI{accounts: accounts, out: out}
}

// Seed applies the default chart, overridden by the YAML in chart when it is
// non-nil, then verifies every account the posting templates reference.
func (c *SeedCLI) Seed(ctx context.Context, tenantID int64, chart io.Reader) error {
	if c == nil || c.accounts == nil {
		return errors.New("seed cli: account service not configured")
	}
	if tenantID <= 0 {
		return errors.New("seed cli: tenant required")
	}
	rows := policy.DefaultChart()
	if chart != nil {
		loaded, err := policy.LoadChart(chart)
		if err != nil {
			return err
		}
		rows = loaded
	}
	created, err := c.accounts.EnsureChart(ctx, tenantID, rows)
	if err != nil {
		return fmt.Errorf("seed cli: ensure chart: %w", err)
	}
	if err := c.accounts.VerifyChart(ctx, tenantID, policy.RequiredCodes()); err != nil {
		return fmt.Errorf("seed cli: verify chart: %w", err)
	}
	fmt.Fprintf(c.out, "tenant %d: %d accounts created, %d in chart\n", tenantID, created, len(rows))
	return nil
}
