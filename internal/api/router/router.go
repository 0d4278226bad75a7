package router

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/image-transcoder/internal/api/handlers/job"
	"github.com/aliskhannn/image-transcoder/internal/api/middleware"
)

// tierChecker reports whether a tier name is configured.
type tierChecker interface {
	Known(name string) bool
}

// Setup builds the HTTP engine with every API route.
func Setup(h *job.Handler, tiers tierChecker) *ginext.Engine {
	r := ginext.New()

	r.Use(middleware.CORSMiddleware())
	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	r.GET("/healthz", func(c *ginext.Context) {
		c.Status(http.StatusOK)
	})

	api := r.Group("/api")
	api.Use(middleware.Identity(tiers))

	api.POST("/upload", h.Upload)               // submit one or more files
	api.GET("/job/:id", h.Status)               // job status
	api.DELETE("/job/:id", h.Cancel)            // cancel a job
	api.GET("/download/:id", h.Download)        // single artifact, Range aware
	api.GET("/batch/:id", h.Batch)              // batch archive
	api.GET("/batch/:id/status", h.BatchStatus) // derived batch status
	api.GET("/quota", h.Quota)                  // caller quota windows
	api.GET("/formats", h.Formats)              // legal conversions

	return r
}
