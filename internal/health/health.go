// Package health serves the liveness endpoint hosting platforms probe.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/uhcops/changebot/internal/store"
)

// StartOpts holds configuration for the health server.
type StartOpts struct {
	Store *store.Store
	Port  int
	Out   io.Writer
}

// Start launches the health HTTP server. It blocks until ctx is
// cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Store == nil {
		return fmt.Errorf("health: store is required")
	}
	if opts.Port <= 0 {
		opts.Port = 10000
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts.Store)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Health endpoint at http://localhost:%d/health\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health: %w", err)
	}
	return nil
}

// registerRoutes wires the endpoints onto the router.
func registerRoutes(router *gin.Engine, st *store.Store) {
	router.GET("/health", func(c *gin.Context) {
		openOrders, err := st.CountOrdersByStatus("pending", "in_progress")
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"service": "changebot",
				"ok":      false,
				"error":   err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"service":     "changebot",
			"ok":          true,
			"open_orders": openOrders,
			"time":        st.Now().UTC().Format(time.RFC3339),
		})
	})
}
