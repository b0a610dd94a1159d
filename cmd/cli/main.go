package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iho/ynabimport/internal/adapter/sink"
	"github.com/iho/ynabimport/internal/app"
	"github.com/iho/ynabimport/internal/domain"
	"github.com/iho/ynabimport/internal/infrastructure/config"
	"github.com/iho/ynabimport/internal/infrastructure/logger"
	"github.com/iho/ynabimport/internal/usecase"
)

var errBatchFailures = errors.New("some records failed to import")

var (
	envFile string
	// stdin is read for the TAN when a login runs in one invocation.
	stdin io.Reader = os.Stdin
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ynabimport",
		Short:         "Import bank transactions into YNAB",
		Long:          `Imports comdirect, generic CSV, PayPal and PDF statement transactions into a YNAB budget exactly once.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file (default: ./.env when present)")

	rootCmd.AddCommand(loginCmd(), importCmd(), ledgerCmd(), budgetCmd())
	return rootCmd
}

// withApp loads configuration and runs fn with a fresh App.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr})
	a := app.New(cfg, log, nil)
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close connections")
		}
	}()

	return fn(cmd.Context(), a)
}

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Two-step comdirect login",
	}

	var imagePath string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Log in up to the TAN challenge and store the pending session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				auth, err := a.AuthUseCase(ctx)
				if err != nil {
					return err
				}
				session, err := auth.Start(ctx)
				if err != nil {
					return err
				}
				if err := presentChallenge(session, imagePath); err != nil {
					return err
				}
				printJSON(sessionView(session, imagePath))
				return nil
			})
		},
	}
	startCmd.Flags().StringVar(&imagePath, "image", "photo_tan.png", "Where to write a photoTAN image")

	var (
		sessionID string
		code      string
		sinkPath  string
	)
	confirmCmd := &cobra.Command{
		Use:   "confirm",
		Short: "Answer the TAN challenge and import the account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return &domain.ConfigError{Key: "session"}
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				importer, err := newImporter(ctx, a, domain.SourceComdirect, sinkPath)
				if err != nil {
					return err
				}
				auth, err := a.AuthUseCase(ctx)
				if err != nil {
					return err
				}
				session, err := auth.Confirm(ctx, sessionID, domain.ChallengeAnswer{Code: strings.TrimSpace(code)})
				if err != nil {
					return err
				}
				src, err := a.BankSource(session)
				if err != nil {
					return err
				}
				return runImport(ctx, a, importer, src, sinkPath)
			})
		},
	}
	confirmCmd.Flags().StringVar(&sessionID, "session", "", "Session id printed by login start")
	confirmCmd.Flags().StringVar(&code, "code", "", "TAN code; omit for push confirmations")
	confirmCmd.Flags().StringVar(&sinkPath, "sink", "", "Write rows to this CSV file instead of the budget")

	cmd.AddCommand(startCmd, confirmCmd)
	return cmd
}

func importCmd() *cobra.Command {
	var sinkPath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import transactions from one source",
	}
	cmd.PersistentFlags().StringVar(&sinkPath, "sink", "", "Write rows to this CSV file instead of the budget")

	var imagePath string
	comdirectCmd := &cobra.Command{
		Use:   "comdirect",
		Short: "Log in, wait for the TAN on stdin and import the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				importer, err := newImporter(ctx, a, domain.SourceComdirect, sinkPath)
				if err != nil {
					return err
				}
				auth, err := a.AuthUseCase(ctx)
				if err != nil {
					return err
				}
				session, err := auth.Start(ctx)
				if err != nil {
					return err
				}
				if err := presentChallenge(session, imagePath); err != nil {
					return err
				}
				if view := sessionView(session, imagePath); view.ImagePath != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "photoTAN image written to %s\n", view.ImagePath)
				}
				answer, err := readAnswer(cmd.ErrOrStderr(), session.Challenge)
				if err != nil {
					return err
				}
				session, err = auth.Confirm(ctx, session.SessionID, answer)
				if err != nil {
					return err
				}
				src, err := a.BankSource(session)
				if err != nil {
					return err
				}
				return runImport(ctx, a, importer, src, sinkPath)
			})
		},
	}
	comdirectCmd.Flags().StringVar(&imagePath, "image", "photo_tan.png", "Where to write a photoTAN image")
	cmd.AddCommand(comdirectCmd)

	for _, kind := range []string{app.KindCSV, app.KindPDF, app.KindPayPal} {
		cmd.AddCommand(fileImportCmd(kind, &sinkPath))
	}
	return cmd
}

func fileImportCmd(kind string, sinkPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   kind + " <file>",
		Short: fmt.Sprintf("Import a %s file", kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				importer, err := newImporter(ctx, a, kind, *sinkPath)
				if err != nil {
					return err
				}

				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()

				src, err := a.ReadFileSource(kind, f)
				if err != nil {
					return err
				}
				return runImport(ctx, a, importer, src, *sinkPath)
			})
		},
	}
}

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or amend the idempotency ledger",
	}

	containsCmd := &cobra.Command{
		Use:   "contains <import-id>",
		Short: "Report whether an import id was already submitted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				ledger, err := openLedger(ctx, a)
				if err != nil {
					return err
				}
				printJSON(map[string]any{"import_id": args[0], "contains": ledger.Contains(args[0])})
				return nil
			})
		},
	}

	recordCmd := &cobra.Command{
		Use:   "record <import-id>",
		Short: "Mark an import id as submitted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				store, err := a.LedgerStore(ctx)
				if err != nil {
					return err
				}
				unlock, err := store.Lock(ctx)
				if err != nil {
					return err
				}
				defer unlock()

				ledger, err := usecase.OpenLedger(ctx, store, nil)
				if err != nil {
					return err
				}
				if err := ledger.Record(ctx, args[0]); err != nil {
					return err
				}
				printJSON(map[string]any{"import_id": args[0], "entries": ledger.Len()})
				return nil
			})
		},
	}

	cmd.AddCommand(containsCmd, recordCmd)
	return cmd
}

func openLedger(ctx context.Context, a *app.App) (*usecase.Ledger, error) {
	store, err := a.LedgerStore(ctx)
	if err != nil {
		return nil, err
	}
	return usecase.OpenLedger(ctx, store, nil)
}

func budgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Budget lookups",
	}

	var budgetID string
	categoriesCmd := &cobra.Command{
		Use:   "categories",
		Short: "List the selectable categories of the budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				uc, err := a.BudgetUseCase()
				if err != nil {
					return err
				}
				id := budgetID
				if id == "" {
					id = a.Config().BudgetID
				}
				categories, err := uc.ListCategories(ctx, id)
				if err != nil {
					return err
				}
				for _, c := range categories {
					fmt.Printf("%s\t%s\n", c.ID, c.FullName())
				}
				return nil
			})
		},
	}
	categoriesCmd.Flags().StringVar(&budgetID, "budget", "", "Budget id (default: YNAB_BUDGET_ID)")

	cmd.AddCommand(categoriesCmd)
	return cmd
}

// newImporter checks the settings a batch from source needs and builds the
// orchestrator. A non-empty sinkPath means a dry run.
func newImporter(ctx context.Context, a *app.App, source, sinkPath string) (*usecase.ImportUseCase, error) {
	dryRun := sinkPath != ""
	if err := a.CheckImport(source, dryRun); err != nil {
		return nil, err
	}
	return a.ImportUseCase(ctx, dryRun)
}

// runImport imports src into the budget, or into a CSV file when sinkPath is set.
func runImport(ctx context.Context, a *app.App, importer *usecase.ImportUseCase, src usecase.Source, sinkPath string) error {
	var out usecase.Sink
	if sinkPath != "" {
		s, err := sink.CreateCSVSink(sinkPath)
		if err != nil {
			return err
		}
		out = s
	}

	input, err := a.ImportInput(src, out)
	if err != nil {
		if out != nil {
			_ = out.Close()
		}
		return err
	}

	summary, err := importer.Import(ctx, input)
	if summary != nil {
		printJSON(summary)
	}
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return errBatchFailures
	}
	return nil
}

func presentChallenge(session *domain.Session, imagePath string) error {
	ch := session.Challenge
	if ch == nil || len(ch.Image) == 0 {
		return nil
	}
	if err := os.WriteFile(imagePath, ch.Image, 0o600); err != nil {
		return fmt.Errorf("failed to write challenge image: %w", err)
	}
	return nil
}

func readAnswer(prompt io.Writer, ch *domain.Challenge) (domain.ChallengeAnswer, error) {
	if ch == nil || !ch.Type.RequiresCode() {
		fmt.Fprintln(prompt, "Confirm the login in the banking app, then press Enter.")
	} else {
		fmt.Fprint(prompt, "TAN: ")
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return domain.ChallengeAnswer{}, err
	}
	answer := domain.ChallengeAnswer{Code: strings.TrimSpace(line)}
	if ch != nil && ch.Type.RequiresCode() && answer.Code == "" {
		return answer, domain.ErrChallengeAnswerRequired
	}
	return answer, nil
}

type sessionOutput struct {
	SessionID    string               `json:"session_id"`
	State        domain.SessionState  `json:"state"`
	Challenge    domain.ChallengeType `json:"challenge,omitempty"`
	RequiresCode bool                 `json:"requires_code"`
	ImagePath    string               `json:"image,omitempty"`
}

func sessionView(session *domain.Session, imagePath string) sessionOutput {
	out := sessionOutput{SessionID: session.SessionID, State: session.State}
	if ch := session.Challenge; ch != nil {
		out.Challenge = ch.Type
		out.RequiresCode = ch.Type.RequiresCode()
		if len(ch.Image) > 0 {
			out.ImagePath = imagePath
		}
	}
	return out
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode output: %v\n", err)
	}
}
