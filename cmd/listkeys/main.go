package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joncooperworks/toolhost/config"
	"github.com/joncooperworks/toolhost/crypto/keystore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	configPath := flag.String("config", "", "Path to config file (selects the keystore backend)")
	flag.Parse()

	cfg, _, err := config.LoadExplicit(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	ks, err := cfg.OpenKeystore()
	if err != nil {
		logger.Error("failed to create keystore", "error", err, "backend", cfg.Keystore.Backend)
		os.Exit(1)
	}

	ids, err := ks.List()
	if err != nil {
		logger.Error("failed to list keys", "error", err)
		os.Exit(1)
	}

	if len(ids) == 0 {
		fmt.Println("No keys found in keystore")
		return
	}

	fmt.Printf("Items in keystore (%d):\n", len(ids))
	for _, id := range ids {
		if name, ok := strings.CutPrefix(id, keystore.SecretPrefix); ok {
			fmt.Printf("  - %s (secret)\n", name)
			continue
		}
		fmt.Printf("  - %s\n", id)
	}
}
