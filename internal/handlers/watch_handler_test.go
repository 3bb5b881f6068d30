package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eppraise/eppraise/internal/model"
	"github.com/eppraise/eppraise/internal/store/shared"
)

type fakeReader struct {
	views []model.WatchView
	items map[int64][]model.Item
	err   error
}

func (f *fakeReader) Watches(context.Context) ([]model.WatchView, error) {
	return f.views, f.err
}

func (f *fakeReader) WatchItems(_ context.Context, id int64) ([]model.Item, error) {
	if f.err != nil {
		return nil, f.err
	}
	items, ok := f.items[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return items, nil
}

func soldItem(t *testing.T, id int64, ebayID, price string) model.Item {
	t.Helper()
	item, err := model.ItemFromListing(map[string]any{
		"itemId":      ebayID,
		"viewItemURL": "https://www.ebay.com/itm/" + ebayID,
		"sellingStatus": map[string]any{
			"sellingState": model.SoldState,
			"currentPrice": map[string]any{"value": price},
		},
		"listingInfo": map[string]any{"endTime": "2017-03-01T18:04:05.000Z"},
	}, 1)
	require.NoError(t, err)
	item.ID = id
	return item
}

func setupRouter(reader WatchReader) *mux.Router {
	r := mux.NewRouter()
	NewWatchHandler(reader).RegisterRoutes(r, zap.NewNop())
	return r
}

func TestWatchHandler_ListWatches(t *testing.T) {
	items := []model.Item{soldItem(t, 1, "a", "10"), soldItem(t, 2, "b", "20")}
	r := setupRouter(&fakeReader{views: []model.WatchView{
		{Watch: model.Watch{ID: 1, Keywords: "foo", Enabled: true}, Items: items},
		{Watch: model.Watch{ID: 2, Keywords: "bar"}},
	}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/watch", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	require.Equal(t, "foo", resp[0]["keywords"])
	require.InDelta(t, 15.0, resp[0]["estimate"], 1e-9)
	require.Nil(t, resp[1]["estimate"])
	require.Equal(t, false, resp[1]["enabled"])
}

func TestWatchHandler_WatchItems(t *testing.T) {
	r := setupRouter(&fakeReader{items: map[int64][]model.Item{7: {soldItem(t, 3, "110", "99.5")}}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/watch/7/items", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t,
		`[{"id":3,"ebayID":"110","date":"2017-03-01T18:04:05Z","price":99.5,"url":"https://www.ebay.com/itm/110"}]`,
		w.Body.String())
}

func TestWatchHandler_UnknownWatch(t *testing.T) {
	r := setupRouter(&fakeReader{items: map[int64][]model.Item{}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/watch/42/items", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestWatchHandler_StoreFailure(t *testing.T) {
	r := setupRouter(&fakeReader{err: errors.New("disk on fire")})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/watch", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/watch/1/items", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWatchHandler_EmptyListIsArray(t *testing.T) {
	r := setupRouter(&fakeReader{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/watch", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `[]`, w.Body.String())
}
