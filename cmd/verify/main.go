// Command verify checks unit signatures against trusted public keys, the
// same check toolhost applies at load time.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joncooperworks/toolhost/crypto"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	trustedKeys := flag.String("keys", "", "Comma-separated public key PEM files or directories (required)")
	flag.Parse()

	if *trustedKeys == "" {
		logger.Error("missing required flag", "flag", "keys")
		os.Exit(1)
	}
	units := flag.Args()
	if len(units) == 0 {
		logger.Error("no unit files given")
		os.Exit(1)
	}

	verifier, err := crypto.LoadVerifier(strings.Split(*trustedKeys, ",")...)
	if err != nil {
		logger.Error("failed to load trusted keys", "error", err)
		os.Exit(1)
	}

	untrusted := 0
	for _, unit := range units {
		if err := verifier.Verify(unit); err != nil {
			fmt.Printf("FAIL %s: %v\n", unit, err)
			untrusted++
			continue
		}
		fmt.Printf("OK   %s\n", unit)
	}
	if untrusted > 0 {
		os.Exit(1)
	}
}
