package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kmelchor/floodgate/internal/admission"
)

type Server struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
}

type Upstream struct {
	URL       string `yaml:"url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type Limits struct {
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
	DelayMode  bool    `yaml:"delay_mode"`
	MaxDelayMS int     `yaml:"max_delay_ms"`
	MaxClients int     `yaml:"max_clients"`
	IdleTTLMS  int     `yaml:"idle_ttl_ms"`
}

type Identity struct {
	TrustXFF  bool   `yaml:"trust_xff"`
	KeyHeader string `yaml:"key_header"`
}

type Concurrency struct {
	MaxInFlight      int `yaml:"max_in_flight"`
	AcquireTimeoutMS int `yaml:"acquire_timeout_ms"`
}

type Redis struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level"`       // "debug","info","warn","error"
	PrometheusPath string `yaml:"prometheus_path"` // e.g. "/metrics"
}

type Root struct {
	Server        Server        `yaml:"server"`
	Upstream      Upstream      `yaml:"upstream"`
	Limits        Limits        `yaml:"limits"`
	Identity      Identity      `yaml:"identity"`
	Concurrency   Concurrency   `yaml:"concurrency"`
	Redis         Redis         `yaml:"redis"`
	Observability Observability `yaml:"observability"`
}

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 10 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (s Server) MaxBody() int64 {
	if s.MaxBodyBytes == 0 {
		return 10 << 20
	}
	return s.MaxBodyBytes
} // default 10MB

func (u Upstream) Timeout() time.Duration {
	if u.TimeoutMS <= 0 {
		return 3 * time.Second
	}
	return time.Duration(u.TimeoutMS) * time.Millisecond
}

func (l Limits) IdleTTL() time.Duration {
	if l.IdleTTLMS <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(l.IdleTTLMS) * time.Millisecond
}

func (c Concurrency) AcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeoutMS) * time.Millisecond
}

// Policy converts the limits section into the admission policy.
func (l Limits) Policy() admission.Policy {
	return admission.Policy{
		Rate:      l.RatePerSec,
		Burst:     l.Burst,
		DelayMode: l.DelayMode,
		MaxDelay:  time.Duration(l.MaxDelayMS) * time.Millisecond,
	}
}

func Load(path string) (*Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Root
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	}
	if cfg.Limits.RatePerSec <= 0 {
		cfg.Limits.RatePerSec = 5
	}
	if cfg.Limits.Burst <= 0 {
		cfg.Limits.Burst = 15
	}
	if cfg.Limits.MaxDelayMS <= 0 {
		cfg.Limits.MaxDelayMS = 3000
	}
	if cfg.Limits.MaxClients <= 0 {
		cfg.Limits.MaxClients = 10000
	}
	return &cfg, nil
}
