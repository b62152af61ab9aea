package rephrase

type Config struct {
	// MaxInputLen truncates pathologically long command text before it
	// reaches the analyzer.
	MaxInputLen int
}

func LoadConfig() *Config {
	return &Config{MaxInputLen: 4000}
}
