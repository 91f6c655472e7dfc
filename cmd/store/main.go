// Command store manages scanner credentials in the keystore. Command units
// reference them as "secret:NAME" environment values.
//
// The secret value is read from the terminal without echo, or from standard
// input when it is not a terminal.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/joncooperworks/toolhost/config"
	"github.com/joncooperworks/toolhost/crypto/keystore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	var (
		configPath = flag.String("config", "", "Path to config file (selects the keystore backend)")
		name       = flag.String("name", "", "Secret name, e.g. SHODAN_API_KEY")
		remove     = flag.Bool("delete", false, "Delete the named secret")
		list       = flag.Bool("list", false, "List stored secret names")
	)
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
	secrets := keystore.NewSecrets(ks)

	if *list {
		names, err := secrets.Names()
		if err != nil {
			logger.Error("failed to list secrets", "error", err)
			os.Exit(1)
		}
		if len(names) == 0 {
			fmt.Println("No secrets stored")
			return
		}
		fmt.Printf("Secrets in keystore (%d):\n", len(names))
		for _, n := range names {
			fmt.Printf("  - %s\n", n)
		}
		return
	}

	if *name == "" {
		logger.Error("missing required flag", "flag", "name")
		os.Exit(1)
	}

	if *remove {
		if err := secrets.Remove(*name); err != nil {
			logger.Error("failed to delete secret", "name", *name, "error", err)
			os.Exit(1)
		}
		fmt.Printf("Secret deleted: %s\n", *name)
		return
	}

	value, err := readSecret(*name)
	if err != nil {
		logger.Error("failed to read secret value", "error", err)
		os.Exit(1)
	}
	if value == "" {
		logger.Error("secret value is empty", "name", *name)
		os.Exit(1)
	}
	if err := secrets.Store(*name, value); err != nil {
		logger.Error("failed to store secret", "name", *name, "error", err)
		os.Exit(1)
	}

	fmt.Printf("Secret stored successfully:\n")
	fmt.Printf("  Name: %s\n", *name)
	fmt.Printf("  Reference: secret:%s\n", *name)
}

func readSecret(name string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprintf(os.Stderr, "Value for %s: ", name)
		data, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
	data, err := io.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
