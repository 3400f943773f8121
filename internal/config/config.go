// Package config handles corecast configuration loading and management
package config

import (
	"fmt"
	"time"

	"github.com/corecast/corecast/pkg/vibe"
)

// Config represents the complete corecast server configuration
type Config struct {
	Server    ServerConfig
	SSL       SSLConfig
	Limits    LimitsConfig
	Auth      AuthConfig
	Logging   LoggingConfig
	Mounts    map[string]*MountConfig
	Admin     AdminConfig
	Directory DirectoryConfig
}

// ServerConfig contains server-level settings
type ServerConfig struct {
	Hostname      string
	ListenAddress string
	Port          int
	AdminRoot     string
	Location      string
	ServerID      string
	WebrootDir    string
	SourceLimit   int
	MaxBandwidth  int64 // bits/sec, -1 = off
}

// SSLConfig contains TLS and AutoSSL (ACME) settings.
type SSLConfig struct {
	Enabled         bool
	Port            int
	CertPath        string
	KeyPath         string
	AutoSSL         bool
	AutoSSLEmail    string
	CacheDir        string
	DNSProvider     string
	CloudflareToken string
}

// LimitsConfig contains resource limits (spec.md §6 "Global config")
type LimitsConfig struct {
	MaxClients           int
	MaxSources           int
	MaxListenersPerMount int
	QueueSizeLimit       int
	MinQueueSize         int
	ClientTimeout        time.Duration
	HeaderTimeout        time.Duration
	SourceTimeout        time.Duration
	BurstSize            int
}

// AuthConfig contains authentication settings
type AuthConfig struct {
	SourcePassword string
	RelayPassword  string
	AdminUser      string
	AdminPassword  string
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	AccessLog string
	ErrorLog  string
	LogLevel  string
	LogSize   int
}

// MountConfig contains per-mount settings, covering the full mount-option
// list spec.md §6 names.
type MountConfig struct {
	Name          string
	Password      string
	MaxListeners  int // -1 = unlimited
	MaxBandwidth  int64 // -1 = off
	FallbackMount string
	FallbackOverride bool
	FallbackWhenFull bool
	Genre         string
	Description   string
	URL           string
	Bitrate       int
	Type          string
	Subtype       string
	Public        bool
	StreamName    string
	Hidden        bool
	BurstSize     int
	LimitRate     int64
	WaitTime      time.Duration
	QueueSizeLimit int
	MinQueueSize   int
	SourceTimeout  time.Duration
	AllowedIPs    []string
	DeniedIPs     []string
	DumpFile      string
	IntroFilename string
	OnConnect     string
	OnDisconnect  string
	MaxListenerDuration time.Duration
	MaxStreamDuration   time.Duration
	Auth          string
}

// AdminConfig contains admin interface settings
type AdminConfig struct {
	Enabled  bool
	User     string
	Password string
}

// DirectoryConfig contains directory/YP settings
type DirectoryConfig struct {
	Enabled  bool
	YPURLs   []string
	Interval time.Duration
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Hostname:      "localhost",
			ListenAddress: "0.0.0.0",
			Port:          8000,
			AdminRoot:     "/admin",
			Location:      "Earth",
			ServerID:      "corecast",
			WebrootDir:    "./webroot",
			SourceLimit:   10,
			MaxBandwidth:  -1,
		},
		SSL: SSLConfig{
			Enabled:  false,
			Port:     8443,
			AutoSSL:  false,
			CacheDir: "/var/lib/corecast/certs",
		},
		Limits: LimitsConfig{
			MaxClients:           100,
			MaxSources:           10,
			MaxListenersPerMount: 100,
			QueueSizeLimit:       262144, // 256KB
			MinQueueSize:         65536,  // 64KB
			ClientTimeout:        30 * time.Second,
			HeaderTimeout:        15 * time.Second,
			SourceTimeout:        10 * time.Second,
			BurstSize:            16384, // 16KB
		},
		Auth: AuthConfig{
			SourcePassword: "hackme",
			RelayPassword:  "",
			AdminUser:      "admin",
			AdminPassword:  "hackme",
		},
		Logging: LoggingConfig{
			AccessLog: "/var/log/corecast/access.log",
			ErrorLog:  "/var/log/corecast/error.log",
			LogLevel:  "info",
			LogSize:   10000,
		},
		Mounts: make(map[string]*MountConfig),
		Admin: AdminConfig{
			Enabled:  true,
			User:     "admin",
			Password: "hackme",
		},
		Directory: DirectoryConfig{
			Enabled:  false,
			YPURLs:   []string{},
			Interval: 10 * time.Minute,
		},
	}
}

// Load loads configuration from a VIBE file
func Load(filename string) (*Config, error) {
	v, err := vibe.ParseFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := DefaultConfig()

	// Server configuration
	if server := v.GetObject("server"); server != nil {
		cfg.Server.Hostname = v.GetStringDefault("server.hostname", cfg.Server.Hostname)
		cfg.Server.ListenAddress = v.GetStringDefault("server.listen", cfg.Server.ListenAddress)
		cfg.Server.Port = int(v.GetIntDefault("server.port", int64(cfg.Server.Port)))
		cfg.Server.AdminRoot = v.GetStringDefault("server.admin_root", cfg.Server.AdminRoot)
		cfg.Server.Location = v.GetStringDefault("server.location", cfg.Server.Location)
		cfg.Server.ServerID = v.GetStringDefault("server.server_id", cfg.Server.ServerID)
		cfg.Server.WebrootDir = v.GetStringDefault("server.webroot_dir", cfg.Server.WebrootDir)
		cfg.Server.SourceLimit = int(v.GetIntDefault("server.source_limit", int64(cfg.Server.SourceLimit)))
		cfg.Server.MaxBandwidth = v.GetIntDefault("server.max_bandwidth", cfg.Server.MaxBandwidth)
	}

	// SSL/AutoSSL configuration
	if ssl := v.GetObject("ssl"); ssl != nil {
		cfg.SSL.Enabled = v.GetBoolDefault("ssl.enabled", cfg.SSL.Enabled)
		cfg.SSL.Port = int(v.GetIntDefault("ssl.port", int64(cfg.SSL.Port)))
		cfg.SSL.CertPath = v.GetStringDefault("ssl.cert", cfg.SSL.CertPath)
		cfg.SSL.KeyPath = v.GetStringDefault("ssl.key", cfg.SSL.KeyPath)
		cfg.SSL.AutoSSL = v.GetBoolDefault("ssl.auto_ssl", cfg.SSL.AutoSSL)
		cfg.SSL.AutoSSLEmail = v.GetStringDefault("ssl.auto_ssl_email", cfg.SSL.AutoSSLEmail)
		cfg.SSL.CacheDir = v.GetStringDefault("ssl.cache_dir", cfg.SSL.CacheDir)
		cfg.SSL.DNSProvider = v.GetStringDefault("ssl.dns_provider", cfg.SSL.DNSProvider)
		cfg.SSL.CloudflareToken = v.GetStringDefault("ssl.cloudflare_token", cfg.SSL.CloudflareToken)
	}

	// Limits configuration
	if limits := v.GetObject("limits"); limits != nil {
		cfg.Limits.MaxClients = int(v.GetIntDefault("limits.max_clients", int64(cfg.Limits.MaxClients)))
		cfg.Limits.MaxSources = int(v.GetIntDefault("limits.max_sources", int64(cfg.Limits.MaxSources)))
		cfg.Limits.MaxListenersPerMount = int(v.GetIntDefault("limits.max_listeners_per_mount", int64(cfg.Limits.MaxListenersPerMount)))
		cfg.Limits.QueueSizeLimit = int(v.GetIntDefault("limits.queue_size_limit", int64(cfg.Limits.QueueSizeLimit)))
		cfg.Limits.MinQueueSize = int(v.GetIntDefault("limits.min_queue_size", int64(cfg.Limits.MinQueueSize)))
		cfg.Limits.BurstSize = int(v.GetIntDefault("limits.burst_size", int64(cfg.Limits.BurstSize)))

		if timeout := v.GetInt("limits.client_timeout"); timeout > 0 {
			cfg.Limits.ClientTimeout = time.Duration(timeout) * time.Second
		}
		if timeout := v.GetInt("limits.header_timeout"); timeout > 0 {
			cfg.Limits.HeaderTimeout = time.Duration(timeout) * time.Second
		}
		if timeout := v.GetInt("limits.source_timeout"); timeout > 0 {
			cfg.Limits.SourceTimeout = time.Duration(timeout) * time.Second
		}
	}

	// Auth configuration
	if auth := v.GetObject("auth"); auth != nil {
		cfg.Auth.SourcePassword = v.GetStringDefault("auth.source_password", cfg.Auth.SourcePassword)
		cfg.Auth.RelayPassword = v.GetStringDefault("auth.relay_password", cfg.Auth.RelayPassword)
		cfg.Auth.AdminUser = v.GetStringDefault("auth.admin_user", cfg.Auth.AdminUser)
		cfg.Auth.AdminPassword = v.GetStringDefault("auth.admin_password", cfg.Auth.AdminPassword)
	}

	// Logging configuration
	if logging := v.GetObject("logging"); logging != nil {
		cfg.Logging.AccessLog = v.GetStringDefault("logging.access_log", cfg.Logging.AccessLog)
		cfg.Logging.ErrorLog = v.GetStringDefault("logging.error_log", cfg.Logging.ErrorLog)
		cfg.Logging.LogLevel = v.GetStringDefault("logging.level", cfg.Logging.LogLevel)
		cfg.Logging.LogSize = int(v.GetIntDefault("logging.log_size", int64(cfg.Logging.LogSize)))
	}

	// Mount configurations
	if mounts := v.GetObject("mounts"); mounts != nil {
		for _, key := range mounts.Keys {
			mountPath := "mounts." + key
			mountValue := v.GetObject(mountPath)
			if mountValue == nil {
				continue
			}

			mountName := "/" + key
			if key[0] == '/' {
				mountName = key
			}

			mount := &MountConfig{
				Name:             mountName,
				Password:         v.GetStringDefault(mountPath+".password", cfg.Auth.SourcePassword),
				MaxListeners:     int(v.GetIntDefault(mountPath+".max_listeners", int64(cfg.Limits.MaxListenersPerMount))),
				MaxBandwidth:     v.GetIntDefault(mountPath+".max_bandwidth", -1),
				FallbackMount:    v.GetStringDefault(mountPath+".fallback_mount", ""),
				FallbackOverride: v.GetBoolDefault(mountPath+".fallback_override", false),
				FallbackWhenFull: v.GetBoolDefault(mountPath+".fallback_when_full", false),
				Genre:            v.GetStringDefault(mountPath+".genre", ""),
				Description:      v.GetStringDefault(mountPath+".description", ""),
				URL:              v.GetStringDefault(mountPath+".url", ""),
				Bitrate:          int(v.GetIntDefault(mountPath+".bitrate", 128)),
				Type:             v.GetStringDefault(mountPath+".type", "audio/mpeg"),
				Subtype:          v.GetStringDefault(mountPath+".subtype", ""),
				Public:           v.GetBoolDefault(mountPath+".yp_public", true),
				StreamName:       v.GetStringDefault(mountPath+".stream_name", key),
				Hidden:           v.GetBoolDefault(mountPath+".hidden", false),
				BurstSize:        int(v.GetIntDefault(mountPath+".burst_size", int64(cfg.Limits.BurstSize))),
				LimitRate:        v.GetIntDefault(mountPath+".limit_rate", 0),
				QueueSizeLimit:   int(v.GetIntDefault(mountPath+".queue_size_limit", int64(cfg.Limits.QueueSizeLimit))),
				MinQueueSize:     int(v.GetIntDefault(mountPath+".min_queue_size", int64(cfg.Limits.MinQueueSize))),
				AllowedIPs:       v.GetStringArray(mountPath + ".allowed_ips"),
				DeniedIPs:        v.GetStringArray(mountPath + ".denied_ips"),
				DumpFile:         v.GetStringDefault(mountPath+".dumpfile", ""),
				IntroFilename:    v.GetStringDefault(mountPath+".intro_filename", ""),
				OnConnect:        v.GetStringDefault(mountPath+".on_connect", ""),
				OnDisconnect:     v.GetStringDefault(mountPath+".on_disconnect", ""),
				Auth:             v.GetStringDefault(mountPath+".auth", ""),
			}

			if duration := v.GetInt(mountPath + ".max_listener_duration"); duration > 0 {
				mount.MaxListenerDuration = time.Duration(duration) * time.Second
			}
			if duration := v.GetInt(mountPath + ".max_stream_duration"); duration > 0 {
				mount.MaxStreamDuration = time.Duration(duration) * time.Second
			}
			if duration := v.GetInt(mountPath + ".source_timeout"); duration > 0 {
				mount.SourceTimeout = time.Duration(duration) * time.Second
			}
			if wait := v.GetInt(mountPath + ".wait_time"); wait > 0 {
				mount.WaitTime = time.Duration(wait) * time.Millisecond
			}

			cfg.Mounts[mountName] = mount
		}
	}

	// Admin configuration
	if admin := v.GetObject("admin"); admin != nil {
		cfg.Admin.Enabled = v.GetBoolDefault("admin.enabled", cfg.Admin.Enabled)
		cfg.Admin.User = v.GetStringDefault("admin.user", cfg.Admin.User)
		cfg.Admin.Password = v.GetStringDefault("admin.password", cfg.Admin.Password)
	}

	// Directory/YP configuration
	if directory := v.GetObject("directory"); directory != nil {
		cfg.Directory.Enabled = v.GetBoolDefault("directory.enabled", cfg.Directory.Enabled)
		cfg.Directory.YPURLs = v.GetStringArray("directory.yp_urls")
		if interval := v.GetInt("directory.interval"); interval > 0 {
			cfg.Directory.Interval = time.Duration(interval) * time.Second
		}
	}

	return cfg, nil
}

// GetMountConfig returns the configuration for a specific mount. If no
// specific configuration exists, returns a default configuration.
func (c *Config) GetMountConfig(mountPath string) *MountConfig {
	if mount, exists := c.Mounts[mountPath]; exists {
		return mount
	}

	return &MountConfig{
		Name:           mountPath,
		Password:       c.Auth.SourcePassword,
		MaxListeners:   c.Limits.MaxListenersPerMount,
		MaxBandwidth:   -1,
		Type:           "audio/mpeg",
		Public:         true,
		BurstSize:      c.Limits.BurstSize,
		QueueSizeLimit: c.Limits.QueueSizeLimit,
		MinQueueSize:   c.Limits.MinQueueSize,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.SSL.Enabled && !c.SSL.AutoSSL {
		if c.SSL.CertPath == "" {
			return fmt.Errorf("SSL enabled but no certificate path specified")
		}
		if c.SSL.KeyPath == "" {
			return fmt.Errorf("SSL enabled but no key path specified")
		}
	}

	if c.Limits.MaxClients <= 0 {
		return fmt.Errorf("max_clients must be positive")
	}

	if c.Limits.MaxSources <= 0 {
		return fmt.Errorf("max_sources must be positive")
	}

	return nil
}
