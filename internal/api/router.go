package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chicify/socialgraph/internal/api/social"
	"github.com/chicify/socialgraph/internal/graph"
	"github.com/chicify/socialgraph/pkg/logging"
)

const (
	defaultHeartbeat     = 15 * time.Second
	defaultHealthTimeout = 2 * time.Second
)

// HealthCheck pings one dependency
type HealthCheck func(ctx context.Context) error

// Deps are the graph components the HTTP surface serves
type Deps struct {
	Service *graph.Service
	Views   *graph.ViewBuilder
	Events  *graph.Broadcaster

	// Checks are run by /health, keyed by dependency name.
	Checks map[string]HealthCheck

	// Heartbeat is the idle interval between SSE heartbeats.
	Heartbeat time.Duration
}

// Router sets up API routes
type Router struct {
	handler   *JSONRPCHandler
	service   *graph.Service
	views     *graph.ViewBuilder
	events    *graph.Broadcaster
	checks    map[string]HealthCheck
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewRouter creates a new API router
func NewRouter(deps Deps) *Router {
	registerTagNames()

	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	router := &Router{
		handler:   NewJSONRPCHandler(),
		service:   deps.Service,
		views:     deps.Views,
		events:    deps.Events,
		checks:    deps.Checks,
		heartbeat: heartbeat,
		logger:    logging.WithComponent("api-router"),
	}

	// Register all API methods
	router.registerMethods()

	return router
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	// Health check endpoints
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	// JSON-RPC endpoint
	engine.POST("/rpc", r.handler.Handle)

	api := engine.Group("/api")
	api.POST("/follow", r.postFollow)
	api.GET("/follow", r.getFollow)
	api.GET("/following", r.getFollowing)
	api.GET("/followers", r.getFollowers)

	api.POST("/like", r.postLike)
	api.GET("/like", r.getLike)
	api.GET("/favorites", r.getFavorites)
	api.DELETE("/favorites", r.deleteFavorite)

	api.GET("/users/:id/counts", r.getUserCounts)
	api.GET("/items/:id/likes", r.getItemLikes)

	if r.events != nil {
		api.GET("/events", r.streamEvents)
	}
}

// registerMethods registers all JSON-RPC methods
func (r *Router) registerMethods() {
	follow := social.NewFollowAPI(r.service, r.views)
	like := social.NewLikeAPI(r.service, r.views)

	r.handler.RegisterMethod("social.get_following", follow.GetFollowing)
	r.handler.RegisterMethod("social.get_followers", follow.GetFollowers)
	r.handler.RegisterMethod("social.get_follow_count", follow.GetFollowCount)
	r.handler.RegisterMethod("social.is_following", follow.IsFollowing)

	r.handler.RegisterMethod("social.get_favorites", like.GetFavorites)
	r.handler.RegisterMethod("social.get_like_count", like.GetLikeCount)
	r.handler.RegisterMethod("social.is_liked", like.IsLiked)
}

// healthHandler handles health check requests
func (r *Router) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), defaultHealthTimeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(r.checks))
	for name, check := range r.checks {
		if err := check(ctx); err != nil {
			r.logger.Warn("Health check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "OK"
	}

	overall := "OK"
	if status != http.StatusOK {
		overall = "DEGRADED"
	}
	c.JSON(status, gin.H{
		"status":  overall,
		"service": "socialgraph",
		"checks":  checks,
	})
}
