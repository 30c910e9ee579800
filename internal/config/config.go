// Package config 加载命令行程序的TOML配置文件.
package config

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/ironzhang/coap/v2"
)

// Config 程序配置
type Config struct {
	Listen      string
	LogLevel    string
	MetricsAddr string
	MDNS        MDNS
	Params      coap.TransmissionParams

	// Resources 启动时导入的资源树(link-format)
	Resources string
}

// MDNS 服务发现配置
type MDNS struct {
	Enabled  bool
	Instance string
}

type fileConfig struct {
	Listen      string    `toml:"listen"`
	LogLevel    string    `toml:"log_level"`
	MetricsAddr string    `toml:"metrics_addr"`
	Resources   string    `toml:"resources"`
	MDNS        mdnsTable `toml:"mdns"`
	Transmit    transmit  `toml:"transmission"`
}

type mdnsTable struct {
	Enabled  bool   `toml:"enabled"`
	Instance string `toml:"instance"`
}

type transmit struct {
	AckTimeout       string  `toml:"ack_timeout"`
	AckRandomFactor  float64 `toml:"ack_random_factor"`
	BackoffFactor    float64 `toml:"backoff_factor"`
	MaxRetransmit    int     `toml:"max_retransmit"`
	ExchangeLifetime string  `toml:"exchange_lifetime"`
	NonLifetime      string  `toml:"non_lifetime"`
	ResponseTimeout  string  `toml:"response_timeout"`
	DedupCapacity    int     `toml:"dedup_capacity"`
}

// Default 返回默认配置.
func Default() Config {
	return Config{
		Listen:   ":5683",
		LogLevel: "info",
		MDNS:     MDNS{Instance: "coap-server"},
		Params:   coap.DefaultParams(),
	}
}

// Load 从文件加载配置, 文件中未出现的项保持默认值.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, errors.Wrap(err, "load config")
	}
	return apply(Default(), raw, meta)
}

// Decode 从字符串解析配置.
func Decode(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	return apply(Default(), raw, meta)
}

func apply(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("resources") {
		cfg.Resources = strings.TrimSpace(raw.Resources)
	}
	if meta.IsDefined("mdns", "enabled") {
		cfg.MDNS.Enabled = raw.MDNS.Enabled
	}
	if meta.IsDefined("mdns", "instance") {
		cfg.MDNS.Instance = strings.TrimSpace(raw.MDNS.Instance)
	}

	p := &cfg.Params
	durations := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"ack_timeout", raw.Transmit.AckTimeout, &p.AckTimeout},
		{"exchange_lifetime", raw.Transmit.ExchangeLifetime, &p.ExchangeLifetime},
		{"non_lifetime", raw.Transmit.NonLifetime, &p.NonLifetime},
		{"response_timeout", raw.Transmit.ResponseTimeout, &p.ResponseTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined("transmission", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.val))
		if err != nil {
			return Config{}, errors.Wrapf(err, "parse transmission.%s", d.key)
		}
		*d.dst = v
	}
	if meta.IsDefined("transmission", "ack_random_factor") {
		p.AckRandomFactor = raw.Transmit.AckRandomFactor
	}
	if meta.IsDefined("transmission", "backoff_factor") {
		p.BackoffFactor = raw.Transmit.BackoffFactor
	}
	if meta.IsDefined("transmission", "max_retransmit") {
		p.MaxRetransmit = raw.Transmit.MaxRetransmit
	}
	if meta.IsDefined("transmission", "dedup_capacity") {
		p.DedupCapacity = raw.Transmit.DedupCapacity
	}
	if err := p.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
