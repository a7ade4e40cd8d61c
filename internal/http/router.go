package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"marketplace-chat/internal/metrics"
	"marketplace-chat/internal/service"
)

// RouterDeps agrupa lo que necesita NewRouter.
type RouterDeps struct {
	JWT     *service.JWTService
	Chat    *ChatHandler
	Socket  *SocketHandler
	Metrics *metrics.Metrics
	// Gatherer habilita GET /metrics cuando no es nil.
	Gatherer prometheus.Gatherer
}

// NewRouter configura el router de Gin con middlewares y rutas base.
func NewRouter(logger *zap.Logger, deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, metricas y recovery.
	r.Use(zapLoggerMiddleware(logger), metricsMiddleware(deps.Metrics), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	auth := JWTAuthMiddleware(deps.JWT)

	if deps.Socket != nil {
		r.GET("/ws", auth, deps.Socket.Handle)
	}

	api := r.Group("", auth, jsonContentTypeMiddleware())

	conversations := api.Group("/conversations")
	conversations.POST("", deps.Chat.ResolveConversation)
	conversations.GET("", deps.Chat.ListConversations)
	conversations.GET("/unread", deps.Chat.TotalUnread)
	conversations.GET("/search", deps.Chat.SearchConversations)
	conversations.GET("/:id/messages", deps.Chat.ListMessages)
	conversations.POST("/:id/messages", deps.Chat.SendMessage)
	conversations.POST("/:id/read", deps.Chat.MarkRead)

	admin := api.Group("/admin", RequireAdmin())
	admin.DELETE("/messages/:id", deps.Chat.DeleteMessage)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// metricsMiddleware usa la ruta registrada como label para no explotar la cardinalidad con ids.
func metricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
