// Command tomectl is the operator CLI: schema bootstrap, first-admin
// creation, and API key rotation without going through the HTTP surface.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/tomewiki/tome/pkg/config"
	"github.com/tomewiki/tome/pkg/credentials"
	"github.com/tomewiki/tome/pkg/roles"
	"github.com/tomewiki/tome/pkg/storage"
	"github.com/tomewiki/tome/pkg/users"
)

var log = logrus.New()

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: tomectl <command> [flags]

Commands:
  init             run migrations and create the built-in roles
  create-admin     create an admin user
  rotate-key       rotate a user's API key

Connection settings come from the TOME_* environment variables.
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	db, err := storage.Connect(cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer db.Close()

	ctx := context.Background()

	switch os.Args[1] {
	case "init":
		runInit(ctx, db)
	case "create-admin":
		runCreateAdmin(ctx, db, cfg, os.Args[2:])
	case "rotate-key":
		runRotateKey(ctx, db, cfg, os.Args[2:])
	default:
		log.Errorf("unknown command: %s", os.Args[1])
		usage()
	}
}

func runInit(ctx context.Context, db *sql.DB) {
	if err := storage.Migrate(ctx, db); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}
	log.Info("migrations applied")

	roleStore := roles.NewStore(db)
	if err := roleStore.InitDefaults(ctx); err != nil {
		log.WithError(err).Fatal("failed to create built-in roles")
	}
	log.Info("built-in roles ready")
}

func runCreateAdmin(ctx context.Context, db *sql.DB, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("create-admin", flag.ExitOnError)
	username := fs.String("username", "", "admin username")
	email := fs.String("email", "", "admin email")
	password := fs.String("password", "", "admin password")
	fs.Parse(args)

	if *username == "" || *email == "" || *password == "" {
		log.Fatal("create-admin requires -username, -email and -password")
	}

	roleStore := roles.NewStore(db)
	adminRole, err := roleStore.GetByName(ctx, roles.RoleAdmin)
	if err != nil {
		log.WithError(err).Fatal("failed to look up admin role")
	}
	if adminRole == nil {
		log.Fatal("admin role missing; run 'tomectl init' first")
	}

	userStore := users.NewStore(db, credentials.NewHasher(cfg.Auth.BcryptCost))
	user, err := userStore.Create(ctx, *username, *email, *password, adminRole.ID)
	if err != nil {
		log.WithError(err).Fatal("failed to create admin user")
	}

	log.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"username": user.Username,
	}).Info("admin user created")
	fmt.Printf("api key: %s\n", user.APIKey)
}

func runRotateKey(ctx context.Context, db *sql.DB, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("rotate-key", flag.ExitOnError)
	username := fs.String("username", "", "user whose API key to rotate")
	fs.Parse(args)

	if *username == "" {
		log.Fatal("rotate-key requires -username")
	}

	userStore := users.NewStore(db, credentials.NewHasher(cfg.Auth.BcryptCost))
	user, err := userStore.GetByUsername(ctx, *username)
	if err != nil {
		log.WithError(err).Fatal("failed to look up user")
	}
	if user == nil {
		log.Fatalf("no such user: %s", *username)
	}

	key, err := userStore.RegenerateAPIKey(ctx, user.ID)
	if err != nil {
		log.WithError(err).Fatal("failed to rotate api key")
	}

	log.WithField("username", *username).Info("api key rotated")
	fmt.Printf("api key: %s\n", key)
}
