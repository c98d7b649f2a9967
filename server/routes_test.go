package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gabihodoroga/pubsub-batcher/batch"
	"github.com/gabihodoroga/pubsub-batcher/eventbus"
	"github.com/gabihodoroga/pubsub-batcher/model"
)

type fakeHandler struct {
	stats model.HandlerStats
}

func (h *fakeHandler) Start(ctx context.Context) error { return nil }

func (h *fakeHandler) Stats(ctx context.Context) (model.HandlerStats, error) {
	return h.stats, nil
}

type fakeStats struct{}

func (fakeStats) Stats() batch.Stats {
	return batch.Stats{Received: 3, Batches: 1, Processed: 3}
}

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRouter_Health(t *testing.T) {
	r := newRouter(&fakeHandler{}, fakeStats{}, eventbus.New[*model.Event](), nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_Stats(t *testing.T) {
	h := &fakeHandler{stats: model.HandlerStats{Received: 4, Success: 3, Errors: 1}}
	r := newRouter(h, fakeStats{}, eventbus.New[*model.Event](), nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body statsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, h.stats, body.Handler)
	assert.Equal(t, int64(3), body.Processor.Processed)
}

func TestRouter_Metrics(t *testing.T) {
	r := newRouter(&fakeHandler{}, fakeStats{}, eventbus.New[*model.Event](), nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_PublishEvent(t *testing.T) {
	bus := eventbus.New[*model.Event]()
	var got []*model.Event
	bus.On("user.created", func(e *model.Event) { got = append(got, e) })
	r := newRouter(&fakeHandler{}, fakeStats{}, bus, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/events/user.created", strings.NewReader(`{"user":1}`)))
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, got, 1)
	assert.Equal(t, "user.created", got[0].Name)
	assert.JSONEq(t, `{"user":1}`, string(got[0].Data))
	assert.False(t, got[0].Timestamp.IsZero())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, got[0].ID, resp["id"])
}

func TestRouter_PublishEventInvalidBody(t *testing.T) {
	bus := eventbus.New[*model.Event]()
	called := false
	bus.On("user.created", func(*model.Event) { called = true })
	r := newRouter(&fakeHandler{}, fakeStats{}, bus, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/events/user.created", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, called)
}

func TestRouter_PublishBatchedEndToEnd(t *testing.T) {
	bus := eventbus.New[*model.Event]()
	saved := make(chan []*model.Event, 1)
	p, err := batch.New[*model.Event](bus, []string{"order.placed"}, func(ctx context.Context, events []*model.Event) error {
		saved <- events
		return nil
	}, batch.WithInterval[*model.Event](10*time.Millisecond), batch.WithName[*model.Event](t.Name()))
	require.NoError(t, err)
	defer p.Stop(context.Background())

	r := newRouter(&fakeHandler{}, p, bus, nil)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/events/order.placed", strings.NewReader(`{}`)))
		require.Equal(t, http.StatusAccepted, w.Code)
	}

	total := 0
	for total < 3 {
		select {
		case events := <-saved:
			total += len(events)
		case <-time.After(time.Second):
			t.Fatalf("only %d events saved", total)
		}
	}
	assert.Equal(t, 3, total)
}

func TestRouter_LogLevel(t *testing.T) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	r := newRouter(&fakeHandler{}, fakeStats{}, eventbus.New[*model.Event](), level)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/loglevel", strings.NewReader(`{"level":"debug"}`)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, zap.DebugLevel, level.Level())
}
