package config

import (
	"time"
)

// Version defines the DeviceHive server version.
var Version string

// C holds the global configuration.
var C Config

// Config defines the configuration structure.
type Config struct {
	General struct {
		LogLevel    int    `mapstructure:"log_level"`
		LogToSyslog bool   `mapstructure:"log_to_syslog"`
		NodeID      string `mapstructure:"node_id"`
	} `mapstructure:"general"`

	PostgreSQL struct {
		DSN                string `mapstructure:"dsn"`
		Automigrate        bool   `mapstructure:"automigrate"`
		MaxOpenConnections int    `mapstructure:"max_open_connections"`
		MaxIdleConnections int    `mapstructure:"max_idle_connections"`
	} `mapstructure:"postgresql"`

	Redis struct {
		URL        string   `mapstructure:"url"` // deprecated
		Servers    []string `mapstructure:"servers"`
		Cluster    bool     `mapstructure:"cluster"`
		MasterName string   `mapstructure:"master_name"`
		PoolSize   int      `mapstructure:"pool_size"`
		Password   string   `mapstructure:"password"`
		Database   int      `mapstructure:"database"`
		TLSEnabled bool     `mapstructure:"tls_enabled"`
		KeyPrefix  string   `mapstructure:"key_prefix"`
	} `mapstructure:"redis"`

	Auth struct {
		JWT struct {
			Secret               string        `mapstructure:"secret"`
			AccessTokenLifetime  time.Duration `mapstructure:"access_token_lifetime"`
			RefreshTokenLifetime time.Duration `mapstructure:"refresh_token_lifetime"`
		} `mapstructure:"jwt"`

		Argon2 struct {
			Time      uint32 `mapstructure:"time"`
			Memory    uint32 `mapstructure:"memory"`
			Threads   uint8  `mapstructure:"threads"`
			KeyLength uint32 `mapstructure:"key_length"`
		} `mapstructure:"argon2"`

		MaxLoginAttempts int    `mapstructure:"max_login_attempts"`
		AdminLogin       string `mapstructure:"admin_login"`
		AdminPassword    string `mapstructure:"admin_password"`
	} `mapstructure:"auth"`

	API struct {
		Bind               string        `mapstructure:"bind"`
		RESTPathPrefix     string        `mapstructure:"rest_path_prefix"`
		WebSocketPath      string        `mapstructure:"websocket_path"`
		ServerURL          string        `mapstructure:"server_url"`
		WebSocketServerURL string        `mapstructure:"websocket_server_url"`
		DefaultWaitTimeout time.Duration `mapstructure:"default_wait_timeout"`
		MaxWaitTimeout     time.Duration `mapstructure:"max_wait_timeout"`
		MaxConnections     int           `mapstructure:"max_connections"`
		DeviceCacheTTL     time.Duration `mapstructure:"device_cache_ttl"`

		WebSocket struct {
			SendQueueSize   int           `mapstructure:"send_queue_size"`
			FramesPerSecond float64       `mapstructure:"frames_per_second"`
			Burst           int           `mapstructure:"burst"`
			PingInterval    time.Duration `mapstructure:"ping_interval"`
			ReadLimit       int64         `mapstructure:"read_limit"`
		} `mapstructure:"websocket"`
	} `mapstructure:"api"`

	Cluster struct {
		Enabled bool   `mapstructure:"enabled"`
		Channel string `mapstructure:"channel"`
	} `mapstructure:"cluster"`

	Gateway struct {
		Backend struct {
			Type string `mapstructure:"type"`

			MQTT struct {
				Server               string        `mapstructure:"server"`
				Username             string        `mapstructure:"username"`
				Password             string        `mapstructure:"password"`
				QOS                  uint8         `mapstructure:"qos"`
				CleanSession         bool          `mapstructure:"clean_session"`
				ClientID             string        `mapstructure:"client_id"`
				CACert               string        `mapstructure:"ca_cert"`
				TLSCert              string        `mapstructure:"tls_cert"`
				TLSKey               string        `mapstructure:"tls_key"`
				NotificationTopic    string        `mapstructure:"notification_topic"`
				CommandTopicTemplate string        `mapstructure:"command_topic_template"`
				MaxReconnectInterval time.Duration `mapstructure:"max_reconnect_interval"`
				NotificationLockTTL  time.Duration `mapstructure:"notification_lock_ttl"`
			} `mapstructure:"mqtt"`

			AMQP struct {
				URL                       string `mapstructure:"url"`
				NotificationQueueName     string `mapstructure:"notification_queue_name"`
				NotificationRoutingKey    string `mapstructure:"notification_routing_key"`
				CommandRoutingKeyTemplate string `mapstructure:"command_routing_key_template"`
			} `mapstructure:"amqp"`

			GCPPubSub struct {
				CredentialsFile               string        `mapstructure:"credentials_file"`
				ProjectID                     string        `mapstructure:"project_id"`
				CommandTopicName              string        `mapstructure:"command_topic_name"`
				NotificationTopicName         string        `mapstructure:"notification_topic_name"`
				NotificationRetentionDuration time.Duration `mapstructure:"notification_retention_duration"`
			} `mapstructure:"gcp_pub_sub"`

			AzureServiceBus struct {
				ConnectionString      string `mapstructure:"connection_string"`
				CommandQueueName      string `mapstructure:"command_queue_name"`
				NotificationQueueName string `mapstructure:"notification_queue_name"`
			} `mapstructure:"azure_service_bus"`
		} `mapstructure:"backend"`
	} `mapstructure:"gateway"`

	Monitoring struct {
		Bind                string `mapstructure:"bind"`
		PrometheusEndpoint  bool   `mapstructure:"prometheus_endpoint"`
		HealthcheckEndpoint bool   `mapstructure:"healthcheck_endpoint"`
	} `mapstructure:"monitoring"`
}
