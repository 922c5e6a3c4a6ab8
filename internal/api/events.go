package api

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chicify/socialgraph/internal/graph"
)

const eventBuffer = 16

// streamEvents handles GET /api/events as a Server-Sent Events stream of the
// graph signals involving userId. Signals carry no counters; clients re-read
// the views they display.
func (r *Router) streamEvents(c *gin.Context) {
	var q userQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeBindError(c, err)
		return
	}
	userID, err := graph.NormalizeID("userId", q.UserID)
	if err != nil {
		writeError(c, err)
		return
	}

	signals := make(chan graph.Signal, eventBuffer)
	unsubscribe := r.events.Subscribe(userID, func(s graph.Signal) {
		select {
		case signals <- s:
		default:
			r.logger.Warn("Dropping signal for slow event stream",
				zap.String("user_id", userID),
				zap.String("action", string(s.Action)))
		}
	})
	defer unsubscribe()

	heartbeat := time.NewTicker(r.heartbeat)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	r.logger.Debug("Event stream opened", zap.String("user_id", userID))
	defer r.logger.Debug("Event stream closed", zap.String("user_id", userID))

	c.SSEvent("connected", gin.H{"userId": userID})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case s := <-signals:
			c.SSEvent("signal", s)
			return true
		case at := <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"at": at.UTC()})
			return true
		}
	})
}
