// Package config loads configuration for the C2 (environment variables,
// optionally seeded from a .env file) and the Node (a YAML file path given
// as its sole CLI argument), following the teacher's getenv-with-fallback
// convention.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// C2Config holds every setting the C2 service needs at startup.
type C2Config struct {
	Port             string
	PostgresDSN      string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RabbitMQURL      string
	MinIOEndpoint    string
	MinIOAccessKey   string
	MinIOSecretKey   string
	MinIOUseSSL      bool
	MinIOBucketName  string
	LogLevel         string
	RequestTimeout   time.Duration
	NodeTimeout      time.Duration
	LivenessInterval time.Duration
	TestsPath        string
	ClientSecret     string
	// C2KeyID/C2Secret are the identity the C2 signs requests to a Node
	// with; it must match the node's own c2_public_keyId/c2_secret config.
	C2KeyID   string
	C2Secret  string
	// NodeSecrets maps a Node keyId to its shared secret, populated from a
	// "keyId=secret,keyId2=secret2" CSV environment variable.
	NodeSecrets    map[string]string
	AllowedOrigins []string
}

// LoadC2 loads configuration from the environment, first populating it from
// a .env file if one is present (non-fatal if missing), mirroring the
// teacher's main.go startup convention.
func LoadC2() (*C2Config, error) {
	_ = godotenv.Load()

	cfg := &C2Config{
		Port:             getenv("PORT", "5000"),
		PostgresDSN:      getenv("POSTGRES_DSN", "postgres://localhost:5432/secchiware?sslmode=disable"),
		RedisAddr:        getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getenv("REDIS_PASSWORD", ""),
		RedisDB:          getenvInt("REDIS_DB", 0),
		RabbitMQURL:      getenv("RABBITMQ_URL", "amqp://localhost:5672/"),
		MinIOEndpoint:    getenv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey:   getenv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:   getenv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:      getenvBool("MINIO_USE_SSL", false),
		MinIOBucketName:  getenv("MINIO_BUCKET_NAME", "test-bundles"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		RequestTimeout:   getenvDuration("REQUEST_TIMEOUT", 15*time.Second),
		NodeTimeout:      getenvDuration("NODE_TIMEOUT", 10*time.Second),
		LivenessInterval: getenvDuration("LIVENESS_INTERVAL", 30*time.Second),
		TestsPath:        getenv("TESTS_PATH", "./test_sets"),
		ClientSecret:     getenv("CLIENT_SECRET", ""),
		C2KeyID:          getenv("C2_KEY_ID", "c2"),
		C2Secret:         getenv("C2_SECRET", ""),
		AllowedOrigins:   getenvSlice("ALLOWED_ORIGINS", []string{"*"}),
		NodeSecrets:      map[string]string{},
	}

	for _, pair := range strings.Split(getenv("NODE_SECRETS", ""), ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("config: malformed NODE_SECRETS entry %q", pair)
		}
		cfg.NodeSecrets[kv[0]] = kv[1]
	}

	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("config: CLIENT_SECRET must be set")
	}

	return cfg, nil
}

// NodeConfig is the Node's on-disk configuration file, per spec §6's CLI
// surface: { c2_host, c2_port, listen_ip, listen_port, keyId, secret,
// test_root, c2_public_keyId, c2_secret, timeout_ms }.
type NodeConfig struct {
	C2Host        string `yaml:"c2_host"`
	C2Port        int    `yaml:"c2_port"`
	ListenIP      string `yaml:"listen_ip"`
	ListenPort    int    `yaml:"listen_port"`
	KeyID         string `yaml:"keyId"`
	Secret        string `yaml:"secret"`
	TestRoot      string `yaml:"test_root"`
	C2PublicKeyID string `yaml:"c2_public_keyId"`
	C2Secret      string `yaml:"c2_secret"`
	TimeoutMS     int    `yaml:"timeout_ms"`
}

// LoadNode parses the Node's YAML configuration file at path.
func LoadNode(path string) (*NodeConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading node config %q: %w", path, err)
	}
	var cfg NodeConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing node config %q: %w", path, err)
	}
	if cfg.ListenPort == 0 {
		cfg.ListenPort = 4900
	}
	if cfg.C2Port == 0 {
		cfg.C2Port = 5000
	}
	if cfg.TestRoot == "" {
		cfg.TestRoot = "./test_sets"
	}
	if cfg.TimeoutMS == 0 {
		cfg.TimeoutMS = 5000
	}
	if cfg.KeyID == "" || cfg.Secret == "" || cfg.C2Host == "" {
		return nil, fmt.Errorf("config: node config missing required field(s) (keyId, secret, c2_host)")
	}
	return &cfg, nil
}

func (c *NodeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getenvSlice(key string, fallback []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return strings.Split(v, ",")
	}
	return fallback
}
