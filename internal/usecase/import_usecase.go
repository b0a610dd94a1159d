package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/ynabimport/internal/domain"
	"github.com/iho/ynabimport/internal/infrastructure/metrics"
	"github.com/iho/ynabimport/internal/normalize"
)

// ImportUseCase is the import orchestrator: it pulls records from a source,
// normalizes them, gates them through the ledger and creates them remotely.
type ImportUseCase struct {
	budget   BudgetAPI
	store    LedgerStore
	pipeline *normalize.Pipeline
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewImportUseCase creates a new ImportUseCase.
func NewImportUseCase(
	budget BudgetAPI,
	store LedgerStore,
	pipeline *normalize.Pipeline,
	metrics *metrics.Metrics,
	logger zerolog.Logger,
) *ImportUseCase {
	return &ImportUseCase{
		budget:   budget,
		store:    store,
		pipeline: pipeline,
		metrics:  metrics,
		logger:   logger,
	}
}

// ImportInput describes one batch.
type ImportInput struct {
	// FromDate drops records dated before it; zero keeps everything.
	FromDate time.Time
	Source   Source
	// Sink switches to local sink mode: records are written to it and the
	// ledger and remote API are not touched.
	Sink      Sink
	BudgetID  string
	AccountID string
}

// Import runs one batch. Record-local failures are collected in the summary;
// a non-nil error means the batch was aborted and the summary is partial.
func (uc *ImportUseCase) Import(ctx context.Context, input ImportInput) (*domain.BatchSummary, error) {
	if input.Source == nil {
		return nil, &domain.ConfigError{Key: "source"}
	}

	source := input.Source.Name()
	summary := &domain.BatchSummary{Source: source, DryRun: input.Sink != nil}
	start := time.Now()

	var err error
	if input.Sink != nil {
		err = uc.runSink(ctx, input, summary)
	} else {
		err = uc.runRemote(ctx, input, summary)
	}

	status := "ok"
	if err != nil {
		status = "aborted"
	}
	if uc.metrics != nil {
		uc.metrics.Batches.WithLabelValues(source, status).Inc()
		uc.metrics.BatchDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}

	event := uc.logger.Info()
	if err != nil {
		event = uc.logger.Error().Err(err)
	}
	event.
		Str("source", source).
		Bool("dry_run", summary.DryRun).
		Int("imported", summary.Imported).
		Int("duplicates", summary.Duplicates).
		Int("conflicts", summary.Conflicts).
		Int("filtered", summary.Filtered).
		Int("failed", summary.Failed).
		Msg("import batch finished")

	return summary, err
}

func (uc *ImportUseCase) runRemote(ctx context.Context, input ImportInput, summary *domain.BatchSummary) error {
	if input.BudgetID == "" {
		return &domain.ConfigError{Key: "budget_id"}
	}
	if input.AccountID == "" {
		return &domain.ConfigError{Key: "account_id"}
	}

	unlock, err := uc.store.Lock(ctx)
	if err != nil {
		return fmt.Errorf("lock ledger: %w", err)
	}
	defer func() {
		if err := unlock(); err != nil {
			uc.logger.Warn().Err(err).Msg("failed to release ledger lock")
		}
	}()

	ledger, err := OpenLedger(ctx, uc.store, uc.metrics)
	if err != nil {
		return err
	}

	return uc.each(ctx, input, summary, func(txn domain.Transaction, line int) error {
		if ledger.Contains(txn.ImportID) {
			uc.count(summary, domain.OutcomeDuplicate)
			return nil
		}

		outcome := domain.OutcomeImported
		remoteID, err := uc.budget.CreateTransaction(ctx, input.BudgetID, txn)
		switch {
		case errors.Is(err, domain.ErrConflict):
			outcome = domain.OutcomeConflict
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			uc.fail(summary, txn.ImportID, line, err)
			return nil
		}

		// The remote side now holds the transaction; losing the ledger entry
		// would risk a duplicate on the next run, so this is not record-local.
		if err := ledger.Record(ctx, txn.ImportID); err != nil {
			return err
		}

		uc.logger.Debug().
			Str("import_id", txn.ImportID).
			Str("remote_id", remoteID).
			Str("outcome", string(outcome)).
			Msg("transaction recorded")
		uc.count(summary, outcome)
		return nil
	})
}

func (uc *ImportUseCase) runSink(ctx context.Context, input ImportInput, summary *domain.BatchSummary) (err error) {
	defer func() {
		if cerr := input.Sink.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close sink: %w", cerr)
		}
	}()

	return uc.each(ctx, input, summary, func(txn domain.Transaction, _ int) error {
		if err := input.Sink.Write(ctx, txn); err != nil {
			return fmt.Errorf("write sink: %w", err)
		}
		uc.count(summary, domain.OutcomeImported)
		return nil
	})
}

// each normalizes every record of the source, applies the date filter and
// hands the survivors to handle. Parse failures are recorded and skipped.
func (uc *ImportUseCase) each(
	ctx context.Context,
	input ImportInput,
	summary *domain.BatchSummary,
	handle func(txn domain.Transaction, line int) error,
) error {
	occurrences := normalize.NewOccurrenceCounter()

	for raw, err := range input.Source.Records(ctx) {
		if err != nil {
			var parseErr *domain.ParseError
			if errors.As(err, &parseErr) {
				uc.fail(summary, "", parseErr.Line, err)
				continue
			}
			return fmt.Errorf("read %s: %w", input.Source.Name(), err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		raw.Occurrence = occurrences.Next(raw)

		txn, err := uc.pipeline.Normalize(ctx, raw, input.AccountID)
		if err != nil {
			uc.fail(summary, "", raw.Line, err)
			continue
		}

		if !input.FromDate.IsZero() && txn.Date.Before(input.FromDate) {
			uc.count(summary, domain.OutcomeFiltered)
			continue
		}

		if err := handle(txn, raw.Line); err != nil {
			return err
		}
	}

	return nil
}

func (uc *ImportUseCase) count(summary *domain.BatchSummary, outcome domain.Outcome) {
	summary.Add(outcome)
	if uc.metrics != nil {
		uc.metrics.Transactions.WithLabelValues(summary.Source, string(outcome)).Inc()
	}
}

func (uc *ImportUseCase) fail(summary *domain.BatchSummary, importID string, line int, err error) {
	summary.Fail(importID, line, err)
	if uc.metrics != nil {
		uc.metrics.Transactions.WithLabelValues(summary.Source, string(domain.OutcomeFailed)).Inc()
	}
	uc.logger.Warn().
		Err(err).
		Str("source", summary.Source).
		Str("import_id", importID).
		Int("line", line).
		Msg("record not imported")
}
