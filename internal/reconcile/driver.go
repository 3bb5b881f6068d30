// Package reconcile runs update passes: every enabled watch is searched, the
// response is recorded as a query, and sold listings are merged into the
// item table.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/eppraise/eppraise/internal/ebay"
	"github.com/eppraise/eppraise/internal/keywords"
	"github.com/eppraise/eppraise/internal/model"
	"github.com/eppraise/eppraise/internal/store/shared"
	"github.com/eppraise/eppraise/internal/upsert"
)

// ErrRetryExhausted wraps the last integrity error of an item whose upsert
// kept conflicting.
var ErrRetryExhausted = errors.New("upsert retries exhausted")

const (
	DefaultMaxRetries = 10
	DefaultRetryDelay = 50 * time.Millisecond
)

// Report counts what a pass did.
type Report struct {
	Watches       int
	Queries       int
	FetchFailures int
	Inserted      int
	Merged        int
	Unchanged     int
	Skipped       int
	Conflicts     int
	Failed        int
}

type Option func(*Driver)

// WithMaxRetries sets how many times a conflicting item upsert is retried.
func WithMaxRetries(n int) Option {
	return func(d *Driver) {
		if n >= 0 {
			d.maxRetries = n
		}
	}
}

func WithRetryDelay(delay time.Duration) Option {
	return func(d *Driver) { d.delay = delay }
}

func WithMeter(m metric.Meter) Option {
	return func(d *Driver) {
		if m != nil {
			d.meter = m
		}
	}
}

// WithClock overrides the query timestamp source.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// Driver reconciles search results into the record store.
type Driver struct {
	store      shared.Store
	search     ebay.Searcher
	logger     *zap.Logger
	maxRetries int
	delay      time.Duration
	now        func() time.Time
	meter      metric.Meter

	items         metric.Int64Counter
	conflicts     metric.Int64Counter
	fetchFailures metric.Int64Counter
}

func NewDriver(st shared.Store, search ebay.Searcher, logger *zap.Logger, opts ...Option) (*Driver, error) {
	d := &Driver{
		store:      st,
		search:     search,
		logger:     logger.Named("reconcile"),
		maxRetries: DefaultMaxRetries,
		delay:      DefaultRetryDelay,
		now:        time.Now,
		meter:      noop.NewMeterProvider().Meter("reconcile"),
	}
	for _, opt := range opts {
		opt(d)
	}

	var err error
	if d.items, err = d.meter.Int64Counter("reconcile_items_total",
		metric.WithDescription("Listings processed by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create items counter: %w", err)
	}
	if d.conflicts, err = d.meter.Int64Counter("reconcile_conflicts_total",
		metric.WithDescription("Item upserts retried after an integrity conflict")); err != nil {
		return nil, fmt.Errorf("failed to create conflicts counter: %w", err)
	}
	if d.fetchFailures, err = d.meter.Int64Counter("reconcile_fetch_failures_total",
		metric.WithDescription("Watch searches that failed")); err != nil {
		return nil, fmt.Errorf("failed to create fetch failure counter: %w", err)
	}
	return d, nil
}

// Update runs one pass over the enabled watches in id order. A failed search
// or a failed item is logged and counted and the pass moves on; store errors
// and cancellation end the pass.
func (d *Driver) Update(ctx context.Context) (Report, error) {
	var report Report

	watches, err := d.enabledWatches(ctx)
	if err != nil {
		return report, err
	}
	d.logger.Info("update pass started", zap.Int("watches", len(watches)))

	for _, w := range watches {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Watches++
		if err := d.updateWatch(ctx, w, &report); err != nil {
			return report, fmt.Errorf("watch %d: %w", w.ID, err)
		}
	}

	d.logger.Info("update pass finished",
		zap.Int("queries", report.Queries),
		zap.Int("inserted", report.Inserted),
		zap.Int("merged", report.Merged),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("skipped", report.Skipped),
		zap.Int("conflicts", report.Conflicts),
		zap.Int("failed", report.Failed),
		zap.Int("fetch_failures", report.FetchFailures),
	)
	return report, nil
}

func (d *Driver) enabledWatches(ctx context.Context) ([]model.Watch, error) {
	var watches []model.Watch
	err := shared.Transaction(ctx, d.store, func(s shared.Session) error {
		rows, err := s.Find(ctx, model.WatchTable, shared.Fields{"enabled": true})
		if err != nil {
			return err
		}
		for _, row := range rows {
			w, err := model.WatchFromFields(row)
			if err != nil {
				return err
			}
			watches = append(watches, w)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load watches: %w", err)
	}
	return watches, nil
}

func (d *Driver) updateWatch(ctx context.Context, w model.Watch, report *Report) error {
	log := d.logger.With(zap.Int64("watch_id", w.ID), zap.String("keywords", w.Keywords))

	query, err := d.fetch(ctx, w)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var fe *fetchError
		if errors.As(err, &fe) {
			log.Error("search failed, skipping watch", zap.Error(err))
			report.FetchFailures++
			d.fetchFailures.Add(ctx, 1)
			return nil
		}
		return err
	}
	report.Queries++

	listings, err := query.Listings()
	if err != nil {
		return err
	}
	for _, listing := range listings {
		outcome, err := d.reconcileListing(ctx, w, listing, report)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, ErrRetryExhausted) && !errors.Is(err, shared.ErrAmbiguousMatch) && !errors.Is(err, errBadListing) {
				return err
			}
			log.Error("item not reconciled", zap.Error(err))
			outcome = outcomeFailed
		}
		report.count(outcome)
		d.items.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
	}
	return nil
}

type fetchError struct {
	err error
}

func (e *fetchError) Error() string { return e.err.Error() }
func (e *fetchError) Unwrap() error { return e.err }

// fetch searches the watch's normalized keywords and records the response as
// a query row in its own transaction.
func (d *Driver) fetch(ctx context.Context, w model.Watch) (model.Query, error) {
	kw := keywords.Normalize(w.Keywords)
	res, err := d.search.Query(ctx, kw)
	if err != nil {
		return model.Query{}, &fetchError{err: err}
	}
	payload, err := model.EncodePayload(res.Document())
	if err != nil {
		return model.Query{}, &fetchError{err: err}
	}
	q := model.Query{WatchID: w.ID, Keywords: kw, Retrieved: d.now(), Payload: payload}

	err = shared.Transaction(ctx, d.store, func(s shared.Session) error {
		r, err := upsert.Upsert(ctx, s, model.QueryTable, q.Fields())
		if err != nil {
			return err
		}
		q.ID = r.Row.ID()
		return nil
	})
	if err != nil {
		return model.Query{}, fmt.Errorf("failed to record query: %w", err)
	}
	return q, nil
}

type outcome string

const (
	outcomeInserted  outcome = "inserted"
	outcomeMerged    outcome = "merged"
	outcomeUnchanged outcome = "unchanged"
	outcomeSkipped   outcome = "skipped"
	outcomeFailed    outcome = "failed"
)

func (r *Report) count(o outcome) {
	switch o {
	case outcomeInserted:
		r.Inserted++
	case outcomeMerged:
		r.Merged++
	case outcomeUnchanged:
		r.Unchanged++
	case outcomeSkipped:
		r.Skipped++
	case outcomeFailed:
		r.Failed++
	}
}

var errBadListing = errors.New("malformed listing")

func (d *Driver) reconcileListing(ctx context.Context, w model.Watch, listing map[string]any, report *Report) (outcome, error) {
	item, err := model.ItemFromListing(listing, w.ID)
	if err != nil {
		return outcomeFailed, fmt.Errorf("%w: %v", errBadListing, err)
	}
	if !item.Sold() {
		return outcomeSkipped, nil
	}

	o, attempts, err := d.upsertItem(ctx, item, w.ID)
	if attempts > 1 {
		report.Conflicts += attempts - 1
		d.conflicts.Add(ctx, int64(attempts-1))
	}
	return o, err
}

// upsertItem stores a sold item for a watch. Each attempt runs in its own
// transaction; a unique violation means another writer created the item
// first, so the next attempt finds it and merges the association instead.
// The final attempt refreshes its session before reading.
func (d *Driver) upsertItem(ctx context.Context, item model.Item, watchID int64) (outcome, int, error) {
	attempts := uint(d.maxRetries + 1)
	var result outcome
	var attempt uint
	var opErr error

	_ = retry.Do(
		func() error {
			attempt++
			opErr = shared.Transaction(ctx, d.store, func(s shared.Session) error {
				if attempt == attempts {
					if err := s.Refresh(ctx); err != nil {
						return err
					}
				}
				var err error
				result, err = d.classify(ctx, s, item, watchID)
				return err
			})
			return opErr
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(d.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, shared.ErrUniqueViolation)
		}),
		retry.OnRetry(func(n uint, err error) {
			// Also called after the last attempt, which is reported by the caller.
			if n+1 >= attempts {
				return
			}
			d.logger.Warn("integrity conflict on item, retrying",
				zap.String("ebay_id", item.EbayID),
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
	)

	if opErr == nil {
		return result, int(attempt), nil
	}
	if errors.Is(opErr, shared.ErrUniqueViolation) {
		return outcomeFailed, int(attempt), fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, opErr)
	}
	return outcomeFailed, int(attempt), fmt.Errorf("item %s: %w", item.EbayID, opErr)
}

// classify decides between insert, association merge and no-op, and performs
// the write through the upsert engine.
func (d *Driver) classify(ctx context.Context, s shared.Session, item model.Item, watchID int64) (outcome, error) {
	rows, err := s.Find(ctx, model.ItemTable, shared.Fields{"ebay_id": item.EbayID})
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return "", err
	}

	candidate := item.Fields()
	if len(rows) == 1 {
		linked, err := s.Linked(ctx, model.ItemTable.ToMany["watches"], rows[0].ID())
		if err != nil {
			return "", err
		}
		for _, id := range linked {
			if id == watchID {
				return outcomeUnchanged, nil
			}
		}
		// Known item seen by another watch: extend the association only.
		candidate = shared.Fields{"ebay_id": item.EbayID, "watches": []int64{watchID}}
	}

	res, err := upsert.Upsert(ctx, s, model.ItemTable, candidate)
	if err != nil {
		return "", err
	}
	switch {
	case res.Created:
		return outcomeInserted, nil
	case res.Linked > 0:
		return outcomeMerged, nil
	}
	return outcomeUnchanged, nil
}
