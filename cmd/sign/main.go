// Command sign writes detached signatures for tool unit files using a
// signing key held in the keystore.
//
// Usage:
//
//	sign -keystore-key ops plugins/nikto.yaml plugins/recon.wasm
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joncooperworks/toolhost/config"
	"github.com/joncooperworks/toolhost/crypto"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	var (
		configPath    = flag.String("config", "", "Path to config file (selects the keystore backend)")
		keystoreKeyID = flag.String("keystore-key", "", "Key ID of the signing key in the keystore (required)")
	)
	flag.Parse()

	if *keystoreKeyID == "" {
		logger.Error("missing required flag", "flag", "keystore-key")
		os.Exit(1)
	}
	units := flag.Args()
	if len(units) == 0 {
		logger.Error("no unit files given")
		os.Exit(1)
	}

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

	failed := 0
	for _, unit := range units {
		sigPath, err := crypto.SignUnit(&crypto.SignUnitRequest{
			UnitPath: unit,
			Keystore: ks,
			KeyID:    *keystoreKeyID,
		})
		if err != nil {
			logger.Error("failed to sign unit", "unit", unit, "error", err)
			failed++
			continue
		}
		fmt.Printf("Signed %s\n", unit)
		fmt.Printf("  Signature: %s\n", sigPath)
	}
	if failed > 0 {
		os.Exit(1)
	}
}
