package config

func Defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Snapshot: SnapshotConfig{
			Path: "last_response.db",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}
