package config

// RedactedConfig returns a copy of cfg that is safe to log: credentials are
// replaced with "***" and slices are copied so the original cannot be
// mutated through the result.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Database.DSN)
	redact(&out.Database.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.APIKey)

	redact(&out.Notify.WebhookKey)
	redact(&out.Notify.WebhookSecret)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	redact(&out.Payment.APIKey)
	redact(&out.Payment.Secret)

	out.Notify.Events = cloneStrings(cfg.Notify.Events)
	out.Server.CORSOrigins = cloneStrings(cfg.Server.CORSOrigins)

	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
