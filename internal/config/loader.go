package config

// LoadFromEnv builds the configuration from the process environment. Dev
// builds read a .env file first; see env_dev.go.
func LoadFromEnv() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}
	return Load(FromEnviron())
}
