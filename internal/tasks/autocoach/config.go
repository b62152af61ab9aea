package autocoach

type Config struct {
	// ContextMessages bounds the conversation window sent to the
	// analyzer alongside the triggering message.
	ContextMessages int
}

func LoadConfig(contextMessages int) *Config {
	if contextMessages <= 0 {
		contextMessages = 10
	}
	return &Config{ContextMessages: contextMessages}
}
