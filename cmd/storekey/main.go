// Command storekey imports an Ed25519 private key PEM file into the keystore.
package main

import (
	"crypto/ed25519"
	"flag"
	"fmt"
	"os"

	"github.com/joncooperworks/toolhost/config"
	"github.com/joncooperworks/toolhost/crypto/keystore"
)

func main() {
	var (
		configPath     = flag.String("config", "", "Path to config file (selects the keystore backend)")
		privateKeyPath = flag.String("key", "", "Path to private key PEM file to import")
		keystoreKeyID  = flag.String("keystore-key", "", "Key ID to store private key in keystore (required)")
		publicKeyPath  = flag.String("public", "", "Also write the public key PEM to this path")
	)
	flag.Parse()

	if *privateKeyPath == "" {
		fmt.Fprintf(os.Stderr, "Error: -key is required\n")
		os.Exit(1)
	}

	if *keystoreKeyID == "" {
		fmt.Fprintf(os.Stderr, "Error: -keystore-key is required\n")
		os.Exit(1)
	}

	data, err := os.ReadFile(*privateKeyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading private key file: %v\n", err)
		os.Exit(1)
	}
	priv, err := keystore.ParsePrivateKey(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading private key: %v\n", err)
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

	if err := keystore.SetSigningKey(ks, *keystoreKeyID, priv); err != nil {
		fmt.Fprintf(os.Stderr, "Error storing key in keystore: %v\n", err)
		os.Exit(1)
	}

	if *publicKeyPath != "" {
		pemData, err := keystore.MarshalPublicKey(priv.Public().(ed25519.PublicKey))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling public key: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*publicKeyPath, pemData, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing public key: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("Private key imported successfully:\n")
	fmt.Printf("  Source: %s\n", *privateKeyPath)
	fmt.Printf("  Keystore ID: %s\n", *keystoreKeyID)
	if *publicKeyPath != "" {
		fmt.Printf("  Public key: %s\n", *publicKeyPath)
	}
	fmt.Printf("  Note: You can now delete the PEM file for security\n")
}
