package api

import (
	"github.com/gin-gonic/gin"
)

// SecurityHeaders sets the response headers every route carries.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Next()
	}
}

// NewRouter assembles the gin engine. The rate limiter guards the two
// mutating endpoints; status reads stay unmetered.
func NewRouter(h *Handler, limit gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), SecurityHeaders())

	r.GET("/healthz", h.Health)

	r.POST("/pay", limit, h.PostPay)
	r.GET("/pay", h.GetPay)

	r.POST("/mint", limit, h.PostMint)
	r.GET("/queue", h.GetQueue)
	r.DELETE("/queue", h.CancelQueue)

	return r
}
