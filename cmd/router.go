package cmd

import (
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/luma/nt4/registry"
	"github.com/luma/nt4/storage"
)

// Topics lists the topics a router reports on.
type Topics interface {
	Topics() []registry.Topic
}

type topicView struct {
	Name       string                 `json:"name"`
	ID         int64                  `json:"id"`
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
	Local      bool                   `json:"local"`
}

// NewRouter serves what a watching client knows:
//
//   - GET /ping
//   - GET /topics              every known topic
//   - GET /values              the latest value of every topic
//   - GET /value?name=<topic>  the latest value of one topic
//   - GET /metrics             prometheus metrics
func NewRouter(topics Topics, store storage.Store, gatherer prometheus.Gatherer, debugHTTP bool, log *zap.Logger) *gin.Engine {
	router := setupRouter(debugHTTP, log)

	// Ping test
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	router.GET("/topics", func(c *gin.Context) {
		known := topics.Topics()

		views := make([]topicView, 0, len(known))
		for _, topic := range known {
			views = append(views, topicView{
				Name:       topic.Name,
				ID:         topic.ID,
				Type:       topic.Type.String(),
				Properties: topic.Properties,
				Local:      topic.Local,
			})
		}

		c.JSON(http.StatusOK, views)
	})

	router.GET("/values", func(c *gin.Context) {
		values, err := store.Backup()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.Data(http.StatusOK, "application/json", values)
	})

	router.GET("/value", func(c *gin.Context) {
		name := c.Query("name")
		if name == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}

		value, err := store.Get(c.Request.Context(), name)
		if errors.Is(err, storage.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.Data(http.StatusOK, "application/json", value)
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return router
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Logs all requests, like a combined access and error log, in UTC.
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping", "/metrics"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}
