// Package app contains the HTTP surface of the pipeline
package app

import (
	"time"

	"bitwise74/media-api/app/file"
	"bitwise74/media-api/app/moderation"
	"bitwise74/media-api/app/root"
	"bitwise74/media-api/app/tag"
	"bitwise74/media-api/internal"
	"bitwise74/media-api/internal/storage"
	"bitwise74/media-api/pkg/middleware"

	cache "github.com/chenyahui/gin-cache"
	"github.com/chenyahui/gin-cache/persist"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewRouter(d *internal.Deps) *gin.Engine {
	cfg := d.Config
	router := gin.New()

	router.Use(
		cors.New(cors.Config{
			AllowOrigins:     cfg.Host.CORS,
			AllowMethods:     []string{"GET", "HEAD", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
			ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
		gin.Recovery(),
		middleware.NewRequestIDMiddleware(),
		middleware.Metrics(),
		ginzap.GinzapWithConfig(zap.L(), &ginzap.Config{
			TimeFormat: "15:04:05.000",
			UTC:        true,
			Skipper: func(c *gin.Context) bool {
				return c.Request.Method == "HEAD" || c.Request.URL.Path == "/metrics"
			},
			Context: func(c *gin.Context) []zapcore.Field {
				fields := []zapcore.Field{}

				if v := c.GetString("requestID"); v != "" {
					fields = append(fields, zap.String("request_id", v))
				}

				if v := c.GetString("userID"); v != "" {
					fields = append(fields, zap.String("userID", v))
				}

				return fields
			},
		}),
	)

	router.HandleMethodNotAllowed = true
	router.RedirectFixedPath = true
	router.MaxMultipartMemory = 8 << 20

	jwt := middleware.NewJWTMiddleware(cfg.JWT.Secret)
	identity := middleware.NewOptionalJWTMiddleware(cfg.JWT.Secret)
	moderator := middleware.RequireRole(middleware.RoleModerator)
	rateLimiter := middleware.NewRateLimiter(d.Ctx, middleware.RateLimiterConfig{
		RequestsPerSecond: cfg.Host.RateLimit,
		Burst:             cfg.Host.RateLimit * 2,
	})
	maxUploadSize := cfg.Upload.MaxSize << 20
	store := persist.NewMemoryStore(time.Minute)

	// GET /metrics			-> Prometheus scrape endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Objects of the local store are served by the app itself
	if ls, ok := d.Store.(*storage.LocalStore); ok {
		router.StaticFS("/static", ls.HTTPFileSystem())
	}

	m := router.Group("/api", rateLimiter.Middleware())
	{
		// HEAD /api/heartbeat 		-> Used to check if the server is alive
		m.HEAD("/heartbeat", func(c *gin.Context) { root.Heartbeat(c, d) })

		// GET /api/tags		-> Lists the most used tags of public files
		m.GET("/tags", cacheFor(store, 60), func(c *gin.Context) { tag.TagList(c, d) })
	}

	ff := m.Group("/files")
	{
		// POST /api/files         	-> Uploads a new file and starts processing it
		ff.POST("", jwt, middleware.BodySizeLimiter(maxUploadSize), func(c *gin.Context) { file.FileUpload(c, d) })

		// GET /api/files/search	-> Searches files visible to the caller
		ff.GET("/search", identity, cacheAnonymousFor(store, 15), func(c *gin.Context) { file.FileSearch(c, d) })

		// GET /api/files/:id		-> Returns a file with its variants and tags
		ff.GET("/:id", identity, func(c *gin.Context) { file.FileFetch(c, d) })

		// PATCH /api/files/:id		-> Updates the editable fields of a file
		ff.PATCH("/:id", jwt, middleware.BodySizeLimiter(1<<20), func(c *gin.Context) { file.FileEdit(c, d) })

		// DELETE /api/files/:id	-> Archives a file and removes its objects
		ff.DELETE("/:id", jwt, func(c *gin.Context) { file.FileDelete(c, d) })

		// GET /api/files/:id/serve	-> Redirects to the original or a variant
		ff.GET("/:id/serve", identity, func(c *gin.Context) { file.FileServe(c, d) })

		// GET /api/files/:id/variants	-> Lists the renditions of a file
		ff.GET("/:id/variants", identity, func(c *gin.Context) { file.FileVariants(c, d) })

		// POST /api/files/:id/variants/regenerate -> Renders every variant again
		ff.POST("/:id/variants/regenerate", jwt, func(c *gin.Context) { file.FileRegenerate(c, d) })

		// GET /api/files/:id/jobs	-> Returns the processing jobs of a file
		ff.GET("/:id/jobs", jwt, func(c *gin.Context) { file.FileJobs(c, d) })

		// GET /api/files/:id/similar	-> Returns near duplicates
		ff.GET("/:id/similar", identity, func(c *gin.Context) { file.FileSimilar(c, d) })

		// GET /api/files/:id/duplicates -> Returns exact and filename duplicates
		ff.GET("/:id/duplicates", jwt, func(c *gin.Context) { file.FileDuplicates(c, d) })

		// POST /api/files/:id/tags	-> Adds manual tags
		ff.POST("/:id/tags", jwt, middleware.BodySizeLimiter(64<<10), func(c *gin.Context) { file.FileTagsAdd(c, d) })

		// GET /api/files/:id/moderation -> Returns the moderation trail
		ff.GET("/:id/moderation", jwt, func(c *gin.Context) { moderation.Trail(c, d) })

		// POST /api/files/:id/appeal	-> Appeals a moderation decision
		ff.POST("/:id/appeal", jwt, middleware.BodySizeLimiter(64<<10), func(c *gin.Context) { moderation.Appeal(c, d) })
	}

	mod := m.Group("/moderation", jwt, moderator)
	{
		// POST /api/moderation/:id/decision -> Records a moderator decision
		mod.POST("/:id/decision", middleware.BodySizeLimiter(64<<10), func(c *gin.Context) { moderation.Decide(c, d) })
	}

	return router
}

func cacheFor(store persist.CacheStore, sec int) gin.HandlerFunc {
	return cache.CacheByRequestURI(store, time.Second*time.Duration(sec))
}

// cacheAnonymousFor caches responses of callers without an identity only,
// anything else depends on who is asking
func cacheAnonymousFor(store persist.CacheStore, sec int) gin.HandlerFunc {
	return cache.Cache(store, time.Second*time.Duration(sec),
		cache.WithCacheStrategyByRequest(func(c *gin.Context) (bool, cache.Strategy) {
			if c.GetString("userID") != "" {
				return false, cache.Strategy{}
			}

			return true, cache.Strategy{CacheKey: c.Request.RequestURI}
		}),
	)
}
