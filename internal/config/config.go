package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env    string       `yaml:"env" env:"APP_ENV" env-default:"local"`
	HTTP   HTTPConfig   `yaml:"http"`
	WebRTC WebRTCConfig `yaml:"webrtc"`
	Call   CallConfig   `yaml:"call"`
}

type HTTPConfig struct {
	Address      string   `yaml:"address" env:"HTTP_ADDRESS" env-default:""`
	AllowOrigins []string `yaml:"allow_origins" env:"HTTP_ALLOW_ORIGINS"`
}

type WebRTCConfig struct {
	STUNServers  []string `yaml:"stun_servers" env:"STUN_SERVERS"`
	TURNServers  []string `yaml:"turn_servers" env:"TURN_SERVERS"`
	TURNUsername string   `yaml:"turn_username" env:"TURN_USERNAME"`
	TURNPassword string   `yaml:"turn_password" env:"TURN_PASSWORD"`
}

type CallConfig struct {
	// NegotiationTimeout bounds how long a session may sit in Outgoing or
	// IncomingPending before it is torn down. Zero disables the timeout.
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout" env:"CALL_NEGOTIATION_TIMEOUT" env-default:"45s"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	cfg.setDefaults()

	return &cfg
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) setDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if len(c.HTTP.AllowOrigins) == 0 {
		c.HTTP.AllowOrigins = []string{"http://localhost:3000"}
	}
	if len(c.WebRTC.STUNServers) == 0 {
		c.WebRTC.STUNServers = []string{"stun:stun.l.google.com:19302"}
	}
}
