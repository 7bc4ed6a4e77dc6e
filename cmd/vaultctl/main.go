// vaultctl seals broker credentials into an encrypted vault file and
// verifies an existing vault can be opened with a given master key.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/tradewerk/broker-router/internal/audit"
	"github.com/tradewerk/broker-router/internal/vault"
)

func main() {
	var (
		vaultPath    = flag.String("vault", "configs/credentials.vault", "Path to the vault file")
		secretsPath  = flag.String("secrets", "", "JSON file of broker credentials to seal (seal mode)")
		verify       = flag.Bool("verify", false, "Verify the vault opens with the master key")
		masterKeyEnv = flag.String("master-key-env", "ROUTER_MASTER_KEY", "Environment variable holding the master key")
	)
	flag.Parse()

	log.SetFlags(log.LstdFlags)

	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	masterKey := os.Getenv(*masterKeyEnv)
	if masterKey == "" {
		log.Fatalf("%s is not set", *masterKeyEnv)
	}

	switch {
	case *secretsPath != "":
		if err := seal(*vaultPath, *secretsPath, masterKey); err != nil {
			log.Fatalf("Seal failed: %v", err)
		}
		log.Printf("Sealed credentials into %s", *vaultPath)
	case *verify:
		if err := check(*vaultPath, masterKey); err != nil {
			log.Fatalf("Verify failed: %v", err)
		}
		log.Printf("Vault %s opens cleanly", *vaultPath)
	default:
		fmt.Fprintln(os.Stderr, "nothing to do: pass -secrets to seal or -verify to check")
		flag.Usage()
		os.Exit(2)
	}
}

func seal(vaultPath, secretsPath, masterKey string) error {
	data, err := os.ReadFile(secretsPath)
	if err != nil {
		return fmt.Errorf("read secrets file: %w", err)
	}

	var secrets map[string]vault.Secret
	if err := json.Unmarshal(data, &secrets); err != nil {
		return fmt.Errorf("parse secrets file: %w", err)
	}
	if len(secrets) == 0 {
		return fmt.Errorf("secrets file is empty")
	}

	return vault.Seal(vaultPath, []byte(masterKey), secrets)
}

func check(vaultPath, masterKey string) error {
	v := vault.New(audit.NewLog(16))
	return v.Unlock(vaultPath, []byte(masterKey))
}
