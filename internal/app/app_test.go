package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/ynabimport/internal/adapter/sink"
	"github.com/iho/ynabimport/internal/domain"
	"github.com/iho/ynabimport/internal/infrastructure/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		LedgerBackend:        config.BackendFile,
		LedgerPath:           filepath.Join(dir, "ledger.txt"),
		SessionBackend:       config.BackendFile,
		SessionPath:          filepath.Join(dir, "sessions"),
		SessionPassphrase:    "secret",
		ComdirectPagingCount: 200,
	}
}

func TestFileSourceKinds(t *testing.T) {
	a := New(testConfig(t), zerolog.Nop(), nil)

	for _, kind := range []string{KindCSV, KindPDF, KindPayPal} {
		src, err := a.FileSource(kind, []byte{})
		require.NoError(t, err)
		assert.Equal(t, kind, src.Name())
	}

	_, err := a.FileSource("xlsx", nil)
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestDryRunNeedsNoRemoteSettings(t *testing.T) {
	cfg := testConfig(t)
	cfg.Profile.CSV.Separator = ","
	a := New(cfg, zerolog.Nop(), nil)
	defer a.Close()

	uc, err := a.ImportUseCase(context.Background(), true)
	require.NoError(t, err)

	src, err := a.FileSource(KindCSV, []byte("Buchungstag,Betrag,Name Zahlungsbeteiligter,Verwendungszweck\n01.03.2024,\"-1,50\",Bäcker,Brot\n"))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "upload.csv")
	s, err := sink.CreateCSVSink(out)
	require.NoError(t, err)

	input, err := a.ImportInput(src, s)
	require.NoError(t, err)

	summary, err := uc.Import(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Imported)
	assert.True(t, summary.DryRun)
}

func TestRemoteImportRequiresToken(t *testing.T) {
	a := New(testConfig(t), zerolog.Nop(), nil)

	_, err := a.ImportUseCase(context.Background(), false)
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "YNAB_TOKEN", cfgErr.Key)

	src, err := a.FileSource(KindPDF, nil)
	require.NoError(t, err)
	_, err = a.ImportInput(src, nil)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "YNAB_ACCOUNT_PDF", cfgErr.Key)
}

func TestStorageBackends(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.LedgerBackend = config.BackendRedis
	cfg.SessionBackend = config.BackendRedis
	cfg.RedisURL = "redis://" + mr.Addr()
	cfg.BudgetID = "b-1"

	a := New(cfg, zerolog.Nop(), nil)
	defer a.Close()

	store, err := a.LedgerStore(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Append(context.Background(), "X"))
	assert.True(t, mr.Exists("ynabimport:ledger:b-1"))

	again, err := a.LedgerStore(context.Background())
	require.NoError(t, err)
	assert.Same(t, store, again)

	sessions, err := a.SessionStore(context.Background())
	require.NoError(t, err)
	_, err = sessions.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)
}

func TestBankRequiresCredentials(t *testing.T) {
	a := New(testConfig(t), zerolog.Nop(), nil)

	_, err := a.AuthUseCase(context.Background())
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "COMDIRECT_CLIENT_ID", cfgErr.Key)
}

func TestCheckImport(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *config.Config)
		dryRun  bool
		wantKey string
	}{
		{"dry run needs nothing remote", func(cfg *config.Config) {}, true, ""},
		{"missing token", func(cfg *config.Config) { cfg.YNABToken = "" }, false, "YNAB_TOKEN"},
		{"missing budget", func(cfg *config.Config) { cfg.BudgetID = "" }, false, "YNAB_BUDGET_ID"},
		{"missing account", func(cfg *config.Config) { cfg.ComdirectAccountID = "" }, false, "YNAB_ACCOUNT_COMDIRECT"},
		{"bad from date", func(cfg *config.Config) { cfg.FromDateRaw = "01.03.2024" }, true, "from_date"},
		{"complete", func(cfg *config.Config) {}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.YNABToken = "token"
			cfg.BudgetID = "b-1"
			cfg.ComdirectAccountID = "acc-1"
			tt.mutate(cfg)

			err := New(cfg, zerolog.Nop(), nil).CheckImport(domain.SourceComdirect, tt.dryRun)
			if tt.wantKey == "" {
				require.NoError(t, err)
				return
			}
			var cfgErr *domain.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.wantKey, cfgErr.Key)
		})
	}
}
