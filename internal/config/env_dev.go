//go:build dev

package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Dev builds pick up a .env file from the working directory when present.
// A missing file is not an error; anything else is.
func loadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(".env")
}
