package config

import (
	"runtime"
)

// PlatformDefaults returns platform-specific default values
type PlatformDefaults struct {
	LogFile           string
	ConfigPath        string
	TextfileDirectory string
}

// GetPlatformDefaults returns platform-specific defaults based on runtime.GOOS
func GetPlatformDefaults() PlatformDefaults {
	switch runtime.GOOS {
	case "windows":
		return PlatformDefaults{
			LogFile:           `C:\ProgramData\ServiceHost\service.log`,
			ConfigPath:        `C:\ProgramData\ServiceHost\config.yaml`,
			TextfileDirectory: `C:\Program Files\windows_exporter\textfile_inputs`,
		}
	case "freebsd":
		return PlatformDefaults{
			LogFile:           "/var/log/servicehost/service.log",
			ConfigPath:        "/usr/local/etc/servicehost/config.yaml",
			TextfileDirectory: "/var/tmp/node_exporter",
		}
	default:
		return PlatformDefaults{
			LogFile:           "/var/log/servicehost/service.log",
			ConfigPath:        "/etc/servicehost/config.yaml",
			TextfileDirectory: "/var/lib/node_exporter/textfile_collector",
		}
	}
}

// GetDefaultConfigPath returns the platform-specific default config path
func GetDefaultConfigPath() string {
	return GetPlatformDefaults().ConfigPath
}

// UpdateConfigDefaults sets the platform-specific viper defaults
func UpdateConfigDefaults(v interface{ SetDefault(key string, value interface{}) }) {
	defaults := GetPlatformDefaults()
	v.SetDefault("logging.file", defaults.LogFile)
	v.SetDefault("metrics.textfile_directory", defaults.TextfileDirectory)
}
