package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/PortNumber53/onesub-engine/backend/internal/config"
	"github.com/PortNumber53/onesub-engine/backend/internal/middleware"
	"github.com/PortNumber53/onesub-engine/backend/internal/migrations"
	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

const usage = "Usage: %s [fix|force <version>|status|token <user-id> <role> [email]]"

func main() {
	// Load environment variables
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// token only needs the signing secret.
	if len(os.Args) > 1 && os.Args[1] == "token" {
		issueToken(cfg, os.Args[2:])
		return
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	if len(os.Args) == 1 {
		log.Printf("Applying migrations to %s...", cfg.DatabaseTarget())
		if err := migrations.Up(db); err != nil {
			log.Fatalf("failed to apply migrations: %v", err)
		}
		log.Printf("Migrations applied successfully")
		return
	}

	switch os.Args[1] {
	case "fix":
		log.Printf("Attempting to fix dirty database...")
		if err := migrations.FixDirtyDatabase(db); err != nil {
			log.Fatalf("failed to fix dirty database: %v", err)
		}
		log.Printf("Database fixed successfully")

	case "force":
		if len(os.Args) < 3 {
			log.Fatalf("usage: %s force <version>", os.Args[0])
		}
		var v uint
		if _, err := fmt.Sscanf(os.Args[2], "%d", &v); err != nil {
			log.Fatalf("invalid version number: %s", os.Args[2])
		}

		log.Printf("Forcing database version to %d...", v)
		if err := migrations.ForceVersion(db, v); err != nil {
			log.Fatalf("failed to force version: %v", err)
		}
		log.Printf("Database version forced to %d", v)

	case "status":
		version, dirty, err := migrations.Status(db)
		if err != nil {
			log.Fatalf("failed to read migration status: %v", err)
		}
		log.Printf("Migration version: %d (dirty: %t)", version, dirty)

	default:
		log.Printf(usage, os.Args[0])
		os.Exit(1)
	}
}

// issueToken prints a signed bearer token for local testing.
func issueToken(cfg config.Config, args []string) {
	if len(args) < 2 {
		log.Fatalf(usage, os.Args[0])
	}
	auth, err := middleware.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		log.Fatalf("failed to create authenticator: %v", err)
	}

	p := middleware.Principal{UserID: args[0], Role: models.Role(args[1])}
	if len(args) > 2 {
		p.Email = args[2]
	}
	token, err := auth.Issue(p, 24*time.Hour)
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}
	fmt.Println(token)
}
