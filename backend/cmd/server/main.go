package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"repograph/backend/internal/entity"
	"repograph/backend/internal/hierarchy"
	"repograph/backend/internal/session"
	"repograph/backend/internal/store"
	"repograph/backend/internal/user"
	"repograph/backend/pkg/config"
	errs "repograph/backend/pkg/errors"
	"repograph/backend/pkg/logger"
)

func main() {
	// Initialize logger
	if err := logger.Init("development"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting HTTP API server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize Neo4j driver
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		log.Fatal("Failed to create Neo4j driver", zap.Error(err))
	}
	defer driver.Close(context.Background())

	// Verify Neo4j connection
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Fatal("Failed to verify Neo4j connectivity", zap.Error(err))
	}

	st := store.NewNeo4j(driver)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(log, cfg, st)

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

// newRouter wires the repository services behind the HTTP surface. The store
// is the only dependency, so tests can run the full router over an in-memory
// one.
func newRouter(log *zap.Logger, cfg *config.Config, st store.Store) *gin.Engine {
	users := user.NewService(st, cfg.AdminCode)
	traverser := hierarchy.New(st)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API routes
	api := router.Group("/api")
	{
		// Create a user with its group and manager relationships
		api.POST("/users", func(c *gin.Context) {
			ctx := c.Request.Context()
			sess := requestSession(c, cfg)

			var req struct {
				User     map[string]any `json:"user" binding:"required"`
				Password string         `json:"password" binding:"required"`
				Group    any            `json:"group"`
				Manager  any            `json:"manager"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			u := user.New(req.User)
			if req.Group != nil {
				if _, err := users.ResolveGroup(ctx, sess, u, req.Group); err != nil {
					respondError(c, log, err)
					return
				}
			}
			if req.Manager != nil {
				if _, err := users.ResolveManager(ctx, sess, u, req.Manager); err != nil {
					respondError(c, log, err)
					return
				}
			}
			if err := users.Insert(ctx, sess, u, req.Password); err != nil {
				respondError(c, log, err)
				return
			}

			c.JSON(http.StatusCreated, u.Doc.ClientView())
		})

		// Fetch a user
		api.GET("/users/:key", func(c *gin.Context) {
			ctx := c.Request.Context()
			sess := requestSession(c, cfg)

			u, err := users.Load(ctx, sess, c.Param("key"))
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, u.Doc.ClientView())
		})

		// Delete a user, reparenting its managed users
		api.DELETE("/users/:key", func(c *gin.Context) {
			ctx := c.Request.Context()
			sess := requestSession(c, cfg)

			u, err := users.Load(ctx, sess, c.Param("key"))
			if err != nil {
				respondError(c, log, err)
				return
			}
			doGroup := boolQuery(c, "group", true)
			doManager := boolQuery(c, "manager", true)
			if err := users.Remove(ctx, sess, u, doGroup, doManager); err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "removed"})
		})

		// Verify a user's password
		api.POST("/users/:key/authenticate", func(c *gin.Context) {
			ctx := c.Request.Context()
			sess := requestSession(c, cfg)

			var req struct {
				Password string `json:"password" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			u, err := users.Load(ctx, sess, c.Param("key"))
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"authenticated": users.Authenticate(u, req.Password)})
		})

		// Management chain of a user, nearest manager first
		api.GET("/users/:key/managers", func(c *gin.Context) {
			ctx := c.Request.Context()
			sess := requestSession(c, cfg)
			origin := entity.Handle(user.UserKind.Collection, c.Param("key"))

			results, err := traverser.ManagerPath(ctx, sess, origin, queryOptions(c))
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, results)
		})

		// Users a user manages, flat or as a tree
		api.GET("/users/:key/managed", func(c *gin.Context) {
			ctx := c.Request.Context()
			sess := requestSession(c, cfg)
			origin := entity.Handle(user.UserKind.Collection, c.Param("key"))
			o := queryOptions(c)

			if boolQuery(c, "tree", false) {
				tree, err := traverser.ManagedTree(ctx, sess, origin, o)
				if err != nil {
					respondError(c, log, err)
					return
				}
				c.JSON(http.StatusOK, tree)
				return
			}
			results, err := traverser.ManagedList(ctx, sess, origin, o)
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, results)
		})

		// Create a vocabulary term
		api.POST("/terms", func(c *gin.Context) {
			ctx := c.Request.Context()
			sess := requestSession(c, cfg)

			var props map[string]any
			if err := c.ShouldBindJSON(&props); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			doc := entity.New(entity.TermKind, props)
			if err := doc.Insert(ctx, sess, st); err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusCreated, doc.ClientView())
		})

		// Fetch a term by key or by content
		api.GET("/terms/:key", func(c *gin.Context) {
			ctx := c.Request.Context()
			sess := requestSession(c, cfg)

			doc := entity.NewReference(entity.TermKind, c.Param("key"))
			if err := doc.Resolve(ctx, sess, st); err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, doc.ClientView())
		})

		// Traverse the enumeration graph of a term
		api.GET("/terms/:key/enum/:shape", func(c *gin.Context) {
			ctx := c.Request.Context()
			sess := requestSession(c, cfg)
			origin := entity.Handle(entity.TermKind.Collection, c.Param("key"))
			branch := c.Query("branch")
			o := queryOptions(c)

			switch c.Param("shape") {
			case "path":
				results, err := traverser.EnumPath(ctx, sess, origin, branch, o)
				respondTraversal(c, log, results, err)
			case "list":
				results, err := traverser.EnumList(ctx, sess, origin, branch, o)
				respondTraversal(c, log, results, err)
			case "tree":
				tree, err := traverser.EnumTree(ctx, sess, origin, branch, o)
				if err != nil {
					respondError(c, log, err)
					return
				}
				c.JSON(http.StatusOK, tree)
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": "shape must be path, list or tree"})
			}
		})

		// Traverse the type graph of a term
		api.GET("/terms/:key/type/:shape", func(c *gin.Context) {
			ctx := c.Request.Context()
			sess := requestSession(c, cfg)
			origin := entity.Handle(entity.TermKind.Collection, c.Param("key"))
			o := queryOptions(c)

			switch c.Param("shape") {
			case "path":
				results, err := traverser.TypePath(ctx, sess, origin, o)
				respondTraversal(c, log, results, err)
			case "list":
				results, err := traverser.TypeList(ctx, sess, origin, o)
				respondTraversal(c, log, results, err)
			case "tree":
				tree, err := traverser.TypeTree(ctx, sess, origin, o)
				if err != nil {
					respondError(c, log, err)
					return
				}
				c.JSON(http.StatusOK, tree)
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": "shape must be path, list or tree"})
			}
		})

		// Traverse the form structure of a term
		api.GET("/terms/:key/form/:shape", func(c *gin.Context) {
			ctx := c.Request.Context()
			sess := requestSession(c, cfg)
			origin := entity.Handle(entity.TermKind.Collection, c.Param("key"))
			o := queryOptions(c)

			switch c.Param("shape") {
			case "list":
				results, err := traverser.FormList(ctx, sess, origin, o)
				respondTraversal(c, log, results, err)
			case "tree":
				tree, err := traverser.FormTree(ctx, sess, origin, o)
				if err != nil {
					respondError(c, log, err)
					return
				}
				c.JSON(http.StatusOK, tree)
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": "shape must be list or tree"})
			}
		})
	}

	return router
}

// requestSession derives the caller session from the request, falling back to
// the configured default language.
func requestSession(c *gin.Context, cfg *config.Config) session.Session {
	language := c.Query("language")
	if language == "" {
		language = c.GetHeader("Accept-Language")
	}
	if language == "" {
		language = cfg.DefaultLanguage
	}
	return session.New(language, c.GetHeader("X-User"))
}

// queryOptions reads the traversal parameters shared by every hierarchy
// endpoint.
func queryOptions(c *gin.Context) hierarchy.Options {
	return hierarchy.Options{
		MinDepth:         intQuery(c, "min_depth", 0),
		MaxDepth:         intQuery(c, "max_depth", 0),
		RestrictLanguage: boolQuery(c, "restrict_language", false),
		IncludeEdges:     boolQuery(c, "include_edges", false),
		ChoicesOnly:      boolQuery(c, "choices_only", false),
	}
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func boolQuery(c *gin.Context, name string, fallback bool) bool {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func respondTraversal(c *gin.Context, log *zap.Logger, results []map[string]any, err error) {
	if err != nil {
		respondError(c, log, err)
		return
	}
	if results == nil {
		results = []map[string]any{}
	}
	c.JSON(http.StatusOK, results)
}

// respondError maps repository errors to transport responses. Unclassified
// errors are logged and hidden behind a generic 500.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	var dataErr *errs.DataError
	if errors.As(err, &dataErr) {
		c.JSON(dataErr.Status, gin.H{
			"error": dataErr.Message,
			"kind":  dataErr.Kind,
			"data":  dataErr.Data,
		})
		return
	}
	log.Error("Request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
