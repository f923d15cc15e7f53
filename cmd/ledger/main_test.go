package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	_ "github.com/odyssey-erp/odyssey-ledger/internal/testing/guard"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	main()
}

func TestUsageListsCommands(t *testing.T) {
	for _, cmd := range []string{"serve", "migrate", "seed-accounts", "jobs trigger", "jobs post-event", "jobs stats"} {
		require.Contains(t, usage, cmd)
	}
}
