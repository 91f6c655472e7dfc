// Command genkeys creates an Ed25519 unit signing key in the keystore and
// writes its public half as a PEM file for distribution to hosts.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joncooperworks/toolhost/config"
	"github.com/joncooperworks/toolhost/crypto/keystore"
)

func main() {
	var (
		configPath    = flag.String("config", "", "Path to config file (selects the keystore backend)")
		keystoreKeyID = flag.String("keystore-key", "", "Key ID to store the private key under (required)")
		publicKeyPath = flag.String("public", "public.pem", "Path to save public key")
		force         = flag.Bool("force", false, "Replace an existing key with the same ID")
	)
	flag.Parse()

	if *keystoreKeyID == "" {
		fmt.Fprintf(os.Stderr, "Error: -keystore-key is required\n")
		os.Exit(1)
	}

	cfg, _, err := config.LoadExplicit(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	ks, err := cfg.OpenKeystore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating keystore: %v\n", err)
		os.Exit(1)
	}

	if !*force {
		if _, err := keystore.SigningKey(ks, *keystoreKeyID); err == nil {
			fmt.Fprintf(os.Stderr, "Error: key %q already exists (use -force to replace it)\n", *keystoreKeyID)
			os.Exit(1)
		}
	}

	pub, err := keystore.GenerateSigningKey(ks, *keystoreKeyID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating key: %v\n", err)
		os.Exit(1)
	}

	publicKeyPEM, err := keystore.MarshalPublicKey(pub)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling public key: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*publicKeyPath, publicKeyPEM, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing public key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Signing key generated successfully:\n")
	fmt.Printf("  Keystore ID: %s (%s backend)\n", *keystoreKeyID, cfg.Keystore.Backend)
	fmt.Printf("  Public key: %s\n", *publicKeyPath)
}
