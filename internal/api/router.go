// Package api — HTTP-админка определений сущностей поверх gin.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Options — настройки роутера.
type Options struct {
	// SeedsDir — директория *.dsl для POST /api/admin/seeds без тела.
	SeedsDir string
}

// NewRouter собирает маршруты админки.
func NewRouter(svc AdminService, log *slog.Logger, opts Options) *gin.Engine {
	if log == nil {
		log = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	h := &handlers{svc: svc, seedsDir: opts.SeedsDir}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	admin := r.Group("/api/admin")
	{
		// служебные маршруты — до /:id
		admin.POST("/definitions/_lint", h.lint)
		admin.POST("/schema/apply", h.applyAll)
		admin.GET("/schema/orphans", h.orphans(true))
		admin.POST("/schema/orphans", h.orphans(false))
		admin.POST("/seeds", h.seeds)

		admin.GET("/definitions", h.list)
		admin.POST("/definitions", h.create)
		admin.GET("/definitions/:id", h.get)
		admin.PUT("/definitions/:id", h.update)
		admin.DELETE("/definitions/:id", h.remove)
		admin.POST("/definitions/:id/apply", h.apply)
		admin.POST("/validate/:id", h.validate)
	}
	return r
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		lvl := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			lvl = slog.LevelError
		}
		log.Log(c.Request.Context(), lvl, "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration", time.Since(start))
	}
}

// RunServer слушает addr до отмены ctx, затем корректно останавливает сервер.
func RunServer(ctx context.Context, addr string, handler http.Handler, log *slog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("http server stopping")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
