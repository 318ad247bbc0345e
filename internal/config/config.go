package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Serial   SerialConfig   `mapstructure:"serial"`
	Output   OutputConfig   `mapstructure:"output"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Database DatabaseConfig `mapstructure:"database"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Log      LogConfig      `mapstructure:"log"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type SerialConfig struct {
	Channel string `mapstructure:"channel"`
	Bitrate int    `mapstructure:"bitrate"`
}

type OutputConfig struct {
	Dir        string `mapstructure:"dir"`
	File       string `mapstructure:"file"`
	FlushEvery int    `mapstructure:"flush_every"`
}

type ScanConfig struct {
	ExtraKeywords []string `mapstructure:"extra_keywords"`
	ExcludePorts  []string `mapstructure:"exclude_ports"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	QoS         int    `mapstructure:"qos"`
}

type MonitorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Mode    string `mapstructure:"mode"`
}

type NotifyConfig struct {
	URLs     []string `mapstructure:"urls"`
	Template string   `mapstructure:"template"`
}

var AppConfig Config

// LoadConfig reads the optional YAML config (explicit path or ./config.yaml)
// and environment overrides, then fills in defaults.
func LoadConfig(path string) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("sensorctl")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if path != "" {
			log.Fatalf("Unable to read config %s: %v", path, err)
		}
		// No config file is fine; defaults and env cover everything.
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	if AppConfig.Serial.Bitrate <= 0 {
		AppConfig.Serial.Bitrate = 1000000
	}
	if AppConfig.Output.Dir == "" {
		AppConfig.Output.Dir = "Data"
	}
	if AppConfig.Output.File == "" {
		AppConfig.Output.File = "inkley_sensor_data.csv"
	}
	if AppConfig.Output.FlushEvery <= 0 {
		AppConfig.Output.FlushEvery = 1000
	}
	if AppConfig.Database.Driver == "" {
		AppConfig.Database.Driver = "sqlite"
	}
	if AppConfig.Database.DSN == "" && AppConfig.Database.Driver == "sqlite" {
		AppConfig.Database.DSN = "sensorctl.db"
	}
	if AppConfig.MQTT.TopicPrefix == "" {
		AppConfig.MQTT.TopicPrefix = "sensorctl/readings"
	}
	if AppConfig.MQTT.ClientID == "" {
		AppConfig.MQTT.ClientID = "sensorctl"
	}
	if AppConfig.Monitor.Listen == "" {
		AppConfig.Monitor.Listen = ":8765"
	}
	if AppConfig.Log.Level == "" {
		AppConfig.Log.Level = "info"
	}
}
