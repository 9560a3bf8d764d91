// Command issue-token signs an access token for an existing user. Credential
// flows live outside this service; this covers development and operations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/database"
	"github.com/stemsi/exstem-cbt/internal/logger"
	"github.com/stemsi/exstem-cbt/internal/repository"
	"github.com/stemsi/exstem-cbt/internal/service"
)

func main() {
	userID := flag.Int("user", 0, "User ID to issue the token for")
	flag.Parse()

	if *userID <= 0 {
		fmt.Fprintln(os.Stderr, "Usage: issue-token -user <id>")
		os.Exit(2)
	}

	cfg := config.Load()
	// stdout carries only the token.
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	u, err := repository.NewUserRepository(pool).GetByID(ctx, *userID)
	if errors.Is(err, repository.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Error: user %d not found\n", *userID)
		os.Exit(1)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load user")
	}

	token, err := service.NewAuthService(cfg).GenerateToken(u)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}
	fmt.Println(token)
}
