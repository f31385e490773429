package config

const (
	defaultConfigPath             = "~/.config/nudge/config.toml"
	defaultDataDir                = "~/.local/share/nudge"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 30
	defaultNotifyRequestTimeout   = 10
	defaultNotifyFailureThreshold = 3
	defaultProbeTimeout           = 3
	defaultStartTimeout           = 5
	defaultStopGracePeriod        = 3
	defaultStatusInterval         = 5
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeout:   defaultNotifyRequestTimeout,
			FailureThreshold: defaultNotifyFailureThreshold,
		},
		Session: Session{
			ProbeTimeout: defaultProbeTimeout,
			Netlink:      true,
		},
		Daemon: Daemon{
			StartTimeout:    defaultStartTimeout,
			StopGracePeriod: defaultStopGracePeriod,
			StatusInterval:  defaultStatusInterval,
		},
	}
}
