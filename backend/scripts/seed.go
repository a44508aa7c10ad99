package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"repograph/backend/internal/entity"
	"repograph/backend/internal/session"
	"repograph/backend/internal/store"
	"repograph/backend/internal/user"
	"repograph/backend/pkg/config"
	"repograph/backend/pkg/logger"
)

func main() {
	adminPassword := flag.String("admin-password", "", "Password for the root administrator (required on first run)")
	flag.Parse()

	// Initialize logger
	if err := logger.Init("development"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting database seeding...")

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

	// Verify connection
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Fatal("Failed to verify Neo4j connectivity", zap.Error(err))
	}

	st := store.NewNeo4j(driver)

	// Declare the collections and their uniqueness constraints.
	collections := []struct {
		name   string
		unique []string
	}{
		{user.UserKind.Collection, []string{entity.CodeField}},
		{user.GroupKind.Collection, []string{entity.CodeField}},
		{entity.TermKind.Collection, []string{entity.CodeField}},
		{entity.EdgeKind.Collection, nil},
		{entity.RelationKind.Collection, nil},
	}
	for _, col := range collections {
		log.Info("Ensuring collection", zap.String("collection", col.name))
		if err := st.EnsureCollection(ctx, col.name, col.unique...); err != nil {
			log.Fatal("Failed to ensure collection",
				zap.String("collection", col.name),
				zap.Error(err))
		}
	}

	// The root administrator anchors the management hierarchy; everything
	// else can be created through the API once it exists.
	sess := session.New(cfg.DefaultLanguage, "seed")
	_, count, err := st.Find(ctx, user.UserKind.Collection, map[string]any{
		entity.CodeField: cfg.AdminCode,
	})
	if err != nil {
		log.Fatal("Failed to look up root administrator", zap.Error(err))
	}
	if count > 0 {
		log.Info("Root administrator already exists, skipping",
			zap.String("code", cfg.AdminCode))
		log.Info("Seed completed")
		return
	}

	if *adminPassword == "" {
		log.Error("Root administrator is missing and no -admin-password was given")
		os.Exit(1)
	}

	users := user.NewService(st, cfg.AdminCode)
	admin := user.New(map[string]any{
		entity.CodeField: cfg.AdminCode,
		user.NameField:   "Administrator",
	})
	if err := users.Insert(ctx, sess, admin, *adminPassword); err != nil {
		log.Fatal("Failed to create root administrator", zap.Error(err))
	}

	log.Info("Root administrator created",
		zap.String("code", cfg.AdminCode),
		zap.String("key", admin.Doc.Key()))
	log.Info("Seed completed")
}
