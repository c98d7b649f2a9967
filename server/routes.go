package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/dchest/uniuri"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/gabihodoroga/pubsub-batcher/batch"
	"github.com/gabihodoroga/pubsub-batcher/model"
	"github.com/gabihodoroga/pubsub-batcher/service"
)

// StatsProvider reports the batch processor counters
type StatsProvider interface {
	Stats() batch.Stats
}

// statsResponse is the body of GET /stats
type statsResponse struct {
	Handler   model.HandlerStats `json:"handler"`
	Processor batch.Stats        `json:"processor"`
}

// newRouter builds the HTTP routes. level, when set, serves GET/PUT /loglevel.
func newRouter(handler model.EventHandler, processor StatsProvider, emitter service.Emitter, level http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(otelgin.Middleware("gin-router"))
	// setup you routes here
	r.GET("/", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/stats", func(c *gin.Context) {
		stats, err := handler.Stats(c.Request.Context())
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.JSON(http.StatusOK, statsResponse{Handler: stats, Processor: processor.Stats()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/events/:name", publishEvent(emitter))
	if level != nil {
		r.GET("/loglevel", gin.WrapH(level))
		r.PUT("/loglevel", gin.WrapH(level))
	}
	return r
}

// publishEvent emits the request body as the data of a named event
func publishEvent(emitter service.Emitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uniuri.NewLen(10)
		logger := zap.L().With(zap.Any("request_id", requestID))

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithError(http.StatusBadRequest, err)
			return
		}
		if !json.Valid(body) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "body must be valid JSON"})
			return
		}

		event := &model.Event{
			ID:        requestID,
			Name:      c.Param("name"),
			Timestamp: time.Now().UTC(),
			Data:      json.RawMessage(body),
		}
		emitter.Emit(event.Name, event)

		logger.Sugar().Debugf("publishEvent: event %s queued", event.Name)
		c.JSON(http.StatusAccepted, gin.H{"id": event.ID})
	}
}
