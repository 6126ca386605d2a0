package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"talwar/internal/config"
	"talwar/internal/database"
	"talwar/internal/domain"
	"talwar/internal/logging"
	"talwar/internal/util"
	apperrors "talwar/pkg/errors"
)

func main() {
	username := flag.String("username", "admin", "staff username")
	email := flag.String("email", "admin@talwarinteriors.in", "staff email")
	password := flag.String("password", "", "staff password (required)")
	role := flag.String("role", domain.RoleAdmin, "role: staff or admin")
	name := flag.String("name", "", "display name")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.Init(cfg.App.Debug)
	defer func() { _ = log.Sync() }()

	if strings.TrimSpace(*password) == "" {
		log.Fatal("a password is required, pass -password")
	}
	if *role != domain.RoleStaff && *role != domain.RoleAdmin {
		log.Fatal("unknown role", zap.String("role", *role))
	}

	// Initialize database
	db, err := database.Open(cfg.Database, log.Named("database"))
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer func() { _ = database.Close(db) }()

	ctx := context.Background()
	users := database.NewUserStore(db)

	// Check if the account already exists
	if _, err := users.FindByUsername(ctx, *username); err == nil {
		fmt.Printf("User %q already exists!\n", *username)
		return
	} else if !apperrors.IsNotFound(err) {
		log.Fatal("failed to look up user", zap.Error(err))
	}

	hashedPassword, err := util.HashPassword(strings.TrimSpace(*password))
	if err != nil {
		log.Fatal("failed to hash password", zap.Error(err))
	}

	user := &domain.User{
		Username:       strings.TrimSpace(*username),
		Email:          strings.ToLower(strings.TrimSpace(*email)),
		HashedPassword: hashedPassword,
		Role:           *role,
		IsActive:       true,
	}
	if n := strings.TrimSpace(*name); n != "" {
		user.DisplayName = &n
	}

	if err := users.Create(ctx, user); err != nil {
		log.Fatal("failed to create user", zap.Error(err))
	}

	fmt.Printf("%s user %q created successfully!\n", user.Role, user.Username)
}
