package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/database"
	"github.com/stemsi/exstem-cbt/internal/logger"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
	"github.com/stemsi/exstem-cbt/internal/service"
	"golang.org/x/term"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	users := repository.NewUserRepository(pool)
	auth := service.NewAuthService(cfg)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)
	fmt.Println("=== Create New User ===")

	username := prompt(reader, "Enter Username: ")
	if username == "" {
		fmt.Println("Error: Username is required")
		return
	}

	fullName := prompt(reader, "Enter Full Name: ")
	if fullName == "" {
		fmt.Println("Error: Full name is required")
		return
	}

	role := model.Role(strings.ToLower(prompt(reader, "Enter Role (admin/teacher/student, default student): ")))
	if role == "" {
		role = model.RoleStudent
	}
	if !role.Valid() {
		fmt.Printf("Error: unknown role %q\n", role)
		return
	}

	className := ""
	if role == model.RoleStudent {
		className = prompt(reader, "Enter Class (optional): ")
	}

	fmt.Print("Enter Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Println("Error reading password")
		return
	}
	password := string(bytePassword)
	if len(password) < 6 {
		fmt.Println("Error: Password must be at least 6 characters")
		return
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	u := &model.User{
		Username:     username,
		FullName:     fullName,
		ClassName:    className,
		Role:         role,
		PasswordHash: hash,
	}
	if err := users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicateUsername) {
			fmt.Printf("Error: username %q is taken\n", username)
			return
		}
		log.Fatal().Err(err).Msg("Failed to create user")
	}

	fmt.Printf("\nSuccess! %s '%s' (%s) created with ID: %d\n", u.Role, u.FullName, u.Username, u.ID)
}

func prompt(r *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}
