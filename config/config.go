package config

import (
	"os"
	"time"

	"github.com/ipfs-force-community/metrics"
	"github.com/pelletier/go-toml"
)

const (
	// Configuration file name
	ConfigFile = "config.toml"
)

type Config struct {
	API     *APIConfig
	Request *RequestConfig
	Node    *NodeConfig
	Metrics *metrics.MetricsConfig
	Trace   *metrics.TraceConfig

	EnableEthSign bool
}

type APIConfig struct {
	ListenAddress string
}

// RequestConfig mirrors the runtime knobs of the request pipeline so
// operators can tune them without a rebuild.
type RequestConfig struct {
	RequestQueueSize  int
	RPCTimeout        time.Duration
	ApprovalTimeout   time.Duration
	SubmitTimeout     time.Duration
	ClearInterval     time.Duration
	ReconnectAttempts int
	ReconnectBackoff  time.Duration
	BroadcastGrace    time.Duration
}

type NodeConfig struct {
	DefaultChainID string
	StatePath      string
}

func DefaultConfig() *Config {
	cfg := &Config{
		API: &APIConfig{ListenAddress: "/ip4/127.0.0.1/tcp/45132"},
		Request: &RequestConfig{
			RequestQueueSize:  30,
			RPCTimeout:        time.Second * 25,
			ApprovalTimeout:   time.Second * 60,
			SubmitTimeout:     time.Second * 45,
			ClearInterval:     time.Second * 30,
			ReconnectAttempts: 4,
			ReconnectBackoff:  time.Millisecond * 250,
			BroadcastGrace:    time.Millisecond * 200,
		},
		Node: &NodeConfig{
			DefaultChainID: "0x1",
			StatePath:      "state.json",
		},
		Metrics: metrics.DefaultMetricsConfig(),
		Trace:   metrics.DefaultTraceConfig(),
	}
	namespace := "bridge"
	cfg.Metrics.Exporter.Prometheus.Namespace = namespace
	cfg.Metrics.Exporter.Graphite.Namespace = namespace
	cfg.Metrics.Exporter.Prometheus.EndPoint = "/ip4/0.0.0.0/tcp/4569"
	cfg.Metrics.Exporter.Graphite.Port = 4569
	cfg.Trace.ServerName = "sophon-bridge"
	cfg.Trace.JaegerEndpoint = ""
	cfg.EnableEthSign = false

	return cfg
}

func ReadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	err = toml.Unmarshal(data, cfg)

	return cfg, err
}

func WriteConfig(filePath string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(filePath, data, 0644)
}
