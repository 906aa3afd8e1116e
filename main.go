package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/jordanhubbard/momentum/internal/api"
	"github.com/jordanhubbard/momentum/internal/cache"
	"github.com/jordanhubbard/momentum/internal/config"
	"github.com/jordanhubbard/momentum/internal/database"
	"github.com/jordanhubbard/momentum/internal/session"
)

func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if len(os.Args) > 1 && os.Args[1] == "adduser" {
		if err := addUser(cfg); err != nil {
			log.Fatalf("Failed to add user: %v", err)
		}
		return
	}

	fmt.Println("Momentum OS - Nudge Engine")
	fmt.Println("==========================")

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	sessions := session.NewManager(db, sessionSecret(cfg))
	metrics := buildCache(cfg)

	srv := api.NewServer(cfg, db, sessions, metrics)

	// Stop the scheduler and simulator timers together on shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func configPath() string {
	if path := os.Getenv("MOMENTUM_CONFIG"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "momentum.yaml"
	}
	return filepath.Join(home, ".config", "momentum", "momentum.yaml")
}

// sessionSecret returns the configured signing secret, generating an
// ephemeral one when none is set. Ephemeral secrets invalidate all tokens on
// restart, which is acceptable for a single-user instance.
func sessionSecret(cfg *config.Config) []byte {
	if cfg.SessionSecret != "" {
		return []byte(cfg.SessionSecret)
	}
	log.Printf("No session secret configured; using an ephemeral secret")
	return []byte(fmt.Sprintf("momentum-ephemeral-%d", time.Now().UnixNano()))
}

// buildCache prefers Redis when configured and falls back to the in-memory
// cache otherwise.
func buildCache(cfg *config.Config) cache.Cache {
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(cfg.RedisURL, nil)
		if err != nil {
			log.Printf("Redis cache unavailable, using in-memory cache: %v", err)
		} else {
			return rc
		}
	}
	return cache.NewMemoryCache(nil)
}

// addUser bootstraps an account from the terminal, reading the password
// without echo.
func addUser(cfg *config.Config) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: momentum adduser <email>")
	}
	email := os.Args[2]

	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions := session.NewManager(db, sessionSecret(cfg))
	user, err := sessions.CreateUser(email, string(password))
	if err != nil {
		return err
	}

	fmt.Printf("Created user %s (%s)\n", user.Email, user.ID)
	return nil
}
