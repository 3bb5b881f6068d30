// Package tracker is the application service behind the CLI and the HTTP
// handlers: watch management, listings, update passes and the spreadsheet
// flow.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/eppraise/eppraise/internal/ebay"
	"github.com/eppraise/eppraise/internal/estimate"
	"github.com/eppraise/eppraise/internal/keywords"
	"github.com/eppraise/eppraise/internal/model"
	"github.com/eppraise/eppraise/internal/reconcile"
	"github.com/eppraise/eppraise/internal/sheet"
	"github.com/eppraise/eppraise/internal/store/shared"
	"github.com/eppraise/eppraise/internal/upsert"
)

var (
	ErrEmptyKeywords  = errors.New("keywords are empty")
	ErrSearchDisabled = errors.New("search is not configured")
)

// Service wires the record store to the search client and update driver.
// Search and driver may be nil for read-only use.
type Service struct {
	store  shared.Store
	search ebay.Searcher
	driver *reconcile.Driver
	logger *zap.Logger
}

func NewService(st shared.Store, search ebay.Searcher, driver *reconcile.Driver, logger *zap.Logger) *Service {
	return &Service{store: st, search: search, driver: driver, logger: logger.Named("tracker")}
}

// SaveWatch creates the watch for kw, or updates it when one exists. A nil
// enabled leaves the flag as stored (true for a new watch).
func (s *Service) SaveWatch(ctx context.Context, kw string, enabled *bool) (model.WatchView, error) {
	kw = strings.TrimSpace(kw)
	if kw == "" {
		return model.WatchView{}, ErrEmptyKeywords
	}
	candidate := shared.Fields{"keywords": kw}
	if enabled != nil {
		candidate["enabled"] = *enabled
	}

	var view model.WatchView
	err := shared.Transaction(ctx, s.store, func(sess shared.Session) error {
		res, err := upsert.Upsert(ctx, sess, model.WatchTable, candidate)
		if err != nil {
			return err
		}
		w, err := model.WatchFromFields(res.Row)
		if err != nil {
			return err
		}
		items, err := itemsForWatch(ctx, sess, w.ID)
		if err != nil {
			return err
		}
		view = model.WatchView{Watch: w, Items: items}
		if res.Created {
			s.logger.Info("watch created", zap.Int64("watch_id", w.ID), zap.String("keywords", kw))
		}
		return nil
	})
	if err != nil {
		return model.WatchView{}, fmt.Errorf("failed to save watch: %w", err)
	}
	return view, nil
}

// Watches lists every watch with its items, in id order.
func (s *Service) Watches(ctx context.Context) ([]model.WatchView, error) {
	var views []model.WatchView
	err := shared.Transaction(ctx, s.store, func(sess shared.Session) error {
		rows, err := sess.All(ctx, model.WatchTable)
		if err != nil {
			return err
		}
		for _, row := range rows {
			w, err := model.WatchFromFields(row)
			if err != nil {
				return err
			}
			items, err := itemsForWatch(ctx, sess, w.ID)
			if err != nil {
				return err
			}
			views = append(views, model.WatchView{Watch: w, Items: items})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list watches: %w", err)
	}
	return views, nil
}

// WatchItems lists the items associated with a watch. An unknown id yields
// shared.ErrNotFound.
func (s *Service) WatchItems(ctx context.Context, id int64) ([]model.Item, error) {
	var items []model.Item
	err := shared.Transaction(ctx, s.store, func(sess shared.Session) error {
		rows, err := sess.Get(ctx, model.WatchTable, []int64{id})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("watch %d: %w", id, shared.ErrNotFound)
		}
		items, err = itemsForWatch(ctx, sess, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Items lists every stored item with its watch ids.
func (s *Service) Items(ctx context.Context) ([]model.Item, error) {
	var items []model.Item
	err := shared.Transaction(ctx, s.store, func(sess shared.Session) error {
		rows, err := sess.All(ctx, model.ItemTable)
		if err != nil {
			return err
		}
		link := model.ItemTable.ToMany["watches"]
		for _, row := range rows {
			item, err := model.ItemFromFields(row)
			if err != nil {
				return err
			}
			if item.WatchIDs, err = sess.Linked(ctx, link, item.ID); err != nil {
				return err
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

// Update runs one reconciliation pass.
func (s *Service) Update(ctx context.Context) (reconcile.Report, error) {
	if s.driver == nil {
		return reconcile.Report{}, ErrSearchDisabled
	}
	return s.driver.Update(ctx)
}

// ImportSheet creates a watch for every non-empty cell of the input range.
// Cell text is normalized before it is stored.
func (s *Service) ImportSheet(ctx context.Context, path, inputRange string) ([]model.WatchView, error) {
	values, err := sheet.ReadKeywords(path, inputRange)
	if err != nil {
		return nil, err
	}
	var views []model.WatchView
	for _, v := range values {
		kw := keywords.Normalize(v)
		if kw == "" {
			continue
		}
		view, err := s.SaveWatch(ctx, kw, nil)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	s.logger.Info("watches imported", zap.String("path", path), zap.Int("count", len(views)))
	return views, nil
}

// ExportSheet searches every cell of the input range and writes the mean
// sold price to the parallel cell of the output range. Cells without keywords
// or without sold listings get no estimate.
func (s *Service) ExportSheet(ctx context.Context, path, inputRange, outputRange string) ([]*float64, error) {
	if s.search == nil {
		return nil, ErrSearchDisabled
	}
	values, err := sheet.ReadKeywords(path, inputRange)
	if err != nil {
		return nil, err
	}

	estimates := make([]*float64, len(values))
	for i, v := range values {
		kw := keywords.Normalize(v)
		if kw == "" {
			continue
		}
		res, err := s.search.Query(ctx, kw)
		if err != nil {
			return nil, err
		}
		mean, ok := soldMean(res.Listings())
		s.logger.Info("estimate", zap.String("keywords", kw), zap.Float64("mean", mean), zap.Bool("known", ok))
		if ok {
			estimates[i] = &mean
		}
	}

	if err := sheet.WriteEstimates(path, inputRange, outputRange, estimates); err != nil {
		return nil, err
	}
	return estimates, nil
}

func soldMean(listings []map[string]any) (float64, bool) {
	var sold []model.Item
	for _, l := range listings {
		item, err := model.ItemFromListing(l, 0)
		if err != nil || !item.Sold() {
			continue
		}
		sold = append(sold, item)
	}
	return estimate.MeanPrice(sold)
}

func itemsForWatch(ctx context.Context, sess shared.Session, watchID int64) ([]model.Item, error) {
	ids, err := sess.Linked(ctx, model.WatchTable.ToMany["items"], watchID)
	if err != nil {
		return nil, err
	}
	rows, err := sess.Get(ctx, model.ItemTable, ids)
	if err != nil {
		return nil, err
	}
	items := make([]model.Item, 0, len(rows))
	for _, row := range rows {
		item, err := model.ItemFromFields(row)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
