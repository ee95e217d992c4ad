package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// envFiles lists the dotenv files consulted before the YAML is expanded.
var envFiles = []string{".env", ".env.local"}

// loadEnvFile loads environment variables from the first readable dotenv file.
// Existing process environment variables are not overwritten.
func loadEnvFile() error {
	for _, envPath := range envFiles {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load %s: %w", envPath, err)
		}
		fmt.Fprintf(os.Stderr, "Loaded environment variables from %s\n", envPath)
		return nil
	}
	return fmt.Errorf("no .env file found")
}
