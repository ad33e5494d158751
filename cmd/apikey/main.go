package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"studio/internal/infra"
	"studio/internal/infra/credentials"
)

// apikey stores the generation service API key in integration_tokens so the
// api and worker can start without it in their environment.
func main() {
	var (
		keyFlag    string
		sourceFlag string
		showFlag   bool
	)
	flag.StringVar(&keyFlag, "key", "", "generation API key (falls back to GENERATION_API_KEY)")
	flag.StringVar(&sourceFlag, "source", "cli", "label recorded with the rotation")
	flag.BoolVar(&showFlag, "show", false, "print whether a key is stored, masked, and exit")
	flag.Parse()

	_ = godotenv.Load()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "apikey").Logger()
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))

	if showFlag {
		key, err := store.GenerationAPIKey(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "no generation API key stored: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("generation API key: %s\n", mask(key))
		return
	}

	key := strings.TrimSpace(keyFlag)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("GENERATION_API_KEY"))
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "generation API key is required via -key or GENERATION_API_KEY")
		os.Exit(1)
	}

	if err := store.SetGenerationAPIKey(ctx, key, strings.TrimSpace(sourceFlag)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist generation api key: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("generation API key %s stored successfully\n", mask(key))
}

func mask(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
