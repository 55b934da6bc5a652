//go:build !dev

package config

// Production builds never read a .env file.
func loadDotEnv() error { return nil }
