package pricing

// Default returns the built-in rate table (USD per 1M tokens).
func Default() *Table {
	return NewTable(map[string]Rate{
		// GPT-4 models
		"gpt-4":                                   NewRate("30.0", "60.0"),
		"gpt-4-turbo":                             NewRate("10.0", "30.0"),
		"gpt-4o":                                  NewRate("2.5", "10.0").WithCachedInput("1.25"),
		"gpt-4o-mini":                             NewRate("0.15", "0.60").WithCachedInput("0.075"),
		"gpt-4.5-preview":                         NewRate("75.0", "150.0").WithCachedInput("37.5"),
		"gpt-4o-2024-08-06":                       NewRate("2.5", "10.0").WithCachedInput("1.25"),
		"gpt-4o-audio-preview-2024-12-17":         NewRate("2.5", "10.0"),
		"gpt-4o-realtime-preview-2024-12-17":      NewRate("5.0", "20.0").WithCachedInput("2.5"),
		"gpt-4o-mini-2024-07-18":                  NewRate("0.15", "0.60").WithCachedInput("0.075"),
		"gpt-4o-mini-audio-preview-2024-12-17":    NewRate("0.15", "0.60"),
		"gpt-4o-mini-realtime-preview-2024-12-17": NewRate("0.60", "2.40").WithCachedInput("0.30"),
		"o1-2024-12-17":                           NewRate("15.0", "60.0").WithCachedInput("7.5"),
		"o3-mini-2025-01-31":                      NewRate("1.10", "4.40").WithCachedInput("0.55"),
		"o1-mini-2024-09-12":                      NewRate("1.10", "4.40").WithCachedInput("0.55"),

		// GPT-3.5 models
		"gpt-3.5-turbo":          NewRate("1.5", "2.0").WithCachedInput("0.3"),
		"gpt-3.5-turbo-16k":      NewRate("3.0", "4.0").WithCachedInput("0.6"),
		"gpt-3.5-turbo-instruct": NewRate("1.5", "2.0"),
		"gpt-3.5-turbo-0125":     NewRate("0.5", "1.5").WithCachedInput("0.1"),
		"gpt-3.5-turbo-0613":     NewRate("1.5", "2.0").WithCachedInput("0.3"),
		"gpt-3.5-turbo-1106":     NewRate("1.0", "2.0").WithCachedInput("0.2"),

		// Claude models
		"claude-3-opus-20240229":   NewRate("15.0", "75.0"),
		"claude-3-sonnet-20240229": NewRate("3.0", "15.0"),
		"claude-3-haiku-20240307":  NewRate("0.25", "1.25"),
		"claude-2.1":               NewRate("8.0", "24.0"),
		"claude-2.0":               NewRate("8.0", "24.0"),
		"claude-instant-1.2":       NewRate("0.8", "2.4"),

		// Mistral models
		"mistral-tiny":   NewRate("0.14", "0.42"),
		"mistral-small":  NewRate("0.6", "1.8"),
		"mistral-medium": NewRate("2.7", "8.1").WithReasoning("0.9"),
		"mistral-large":  NewRate("8.0", "24.0").WithReasoning("2.7"),

		// Llama models
		"llama-2-7b":  NewRate("0.2", "0.2"),
		"llama-2-13b": NewRate("0.3", "0.4"),
		"llama-2-70b": NewRate("0.8", "0.9"),
		"llama-3-8b":  NewRate("0.3", "0.3"),
		"llama-3-70b": NewRate("0.9", "0.9"),
	})
}
