package config

import "time"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		PHP: PHPConfig{
			PHPConfig: "php-config",
		},
		FPM: FPMConfig{
			Name:         "php-fpm",
			StartTimeout: Duration(5 * time.Second),
			StopTimeout:  Duration(5 * time.Second),
			Watch: WatchConfig{
				Enabled:  false,
				Interval: Duration(time.Second),
			},
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}
