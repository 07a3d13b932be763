package config

import "slices"

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log: credentials,
// DSNs, webhook URLs and key material are replaced by "***". Slices are
// cloned so the copy shares nothing mutable with cfg.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	for _, secret := range []*string{
		&out.Postgres.DSN,
		&out.Postgres.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Notify.TelegramToken,
		&out.Notify.DiscordWebhookURL,
		&out.Key.PrivateKey,
		&out.Key.Password,
	} {
		if *secret != "" {
			*secret = redacted
		}
	}

	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	return out
}
