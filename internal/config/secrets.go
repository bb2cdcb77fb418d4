package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging the active
// configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Subgraph.APIKey)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	if cfg.Subgraph.URLs != nil {
		out.Subgraph.URLs = make(map[string]string, len(cfg.Subgraph.URLs))
		for k, v := range cfg.Subgraph.URLs {
			out.Subgraph.URLs[k] = v
		}
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}
	if cfg.Sync.Tracked != nil {
		out.Sync.Tracked = append([]string(nil), cfg.Sync.Tracked...)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
