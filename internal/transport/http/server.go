package http

import (
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/parleychat/parley/internal/config"
	"github.com/parleychat/parley/internal/core"
)

// NewServer builds the HTTP server: channel management REST routes and the
// chat WebSocket endpoint.
func NewServer(coord *core.Server, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestLogger(logger), gin.Recovery())

	router.GET("/health", healthHandler)

	channels := NewChannelHandlers(coord, logger)
	router.GET("/channels", channels.ListChannels)
	router.POST("/channels", channels.CreateChannel)
	router.GET("/channels/:name", channels.GetChannel)
	router.PUT("/channels/:name/topic", channels.SetTopic)
	router.DELETE("/channels/:name", channels.DropChannel)

	router.GET("/ws", gin.WrapH(NewWSHandler(coord, logger)))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	_, _ = fmt.Fprint(c.Writer, "ok")
}

// requestLogger logs each request at debug with method, path and latency.
func requestLogger(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}
