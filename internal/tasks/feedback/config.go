package feedback

type Config struct {
	// MessagesPerChannel bounds the history scanned in each enabled
	// channel when collecting the user's recent writing.
	MessagesPerChannel int
	// MaxSamples caps how many of the user's own messages are sent to
	// the analyzer across all channels.
	MaxSamples int
}

func LoadConfig() *Config {
	return &Config{
		MessagesPerChannel: 50,
		MaxSamples:         30,
	}
}
