package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dd-25/Meetup/internal/auth"
	"github.com/dd-25/Meetup/internal/ingest"
)

// Router builds the HTTP surface: health, websocket upgrade, and the batch
// pipeline's operational endpoints.
func Router(verifier *auth.Verifier, ws *WSHandler, pipeline *ingest.Pipeline) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ws", verifier.RequireAuth(), ws.Handle)

	api := r.Group("/api", verifier.RequireAuth())
	{
		api.GET("/chat/batch/stats", func(c *gin.Context) {
			stats, err := pipeline.Stats(c.Request.Context())
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, stats)
		})

		api.POST("/chat/batch/flush", func(c *gin.Context) {
			result, err := pipeline.Flush(c.Request.Context())
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, result)
		})
	}

	return r
}
