// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package coap implements a CoAP (RFC 7252) endpoint runtime: request and
// response exchange, confirmable retransmission, duplicate rejection and
// observe relations, on top of a pluggable datagram transport.
package coap

import (
	"crypto/rand"
	"os"
	"time"

	"github.com/caarlos0/env/v7"
	"gopkg.in/yaml.v2"
)

type Config struct {
	// Duplicate detector bounds.
	DedupMaxEntries int           `env:"DEDUP_MAX_ENTRIES" envDefault:"10000"`
	DedupExpiration time.Duration `env:"DEDUP_EXPIRATION" envDefault:"30s"`

	// Confirmable transmission schedule.
	AckTimeout      time.Duration `env:"ACK_TIMEOUT" envDefault:"2s"`
	AckRandomFactor float64       `env:"ACK_RANDOM_FACTOR" envDefault:"1.5"`
	MaxRetransmit   int           `env:"MAX_RETRANSMIT" envDefault:"4"`

	// Separate-response window after an empty ack.
	DelayedTransactionTimeout time.Duration `env:"DELAYED_TRANSACTION_TIMEOUT" envDefault:"120s"`

	// Timeout/eviction sweep period.
	TickInterval time.Duration `env:"TICK_INTERVAL" envDefault:"1s"`

	// Every n-th notification on a non-confirmable relation is sent
	// confirmable to probe for dead observers.
	ForceConFreq int `env:"FORCE_CON_FREQ" envDefault:"20"`

	// Per-endpoint limit of queued transactions, 0 means unbounded.
	EndpointQueueLimit int `env:"ENDPOINT_QUEUE_LIMIT" envDefault:"0"`

	// Reject requests carrying unrecognized critical options with 4.02.
	CriticalOptTest bool `env:"CRITICAL_OPT_TEST" envDefault:"true"`

	BlockDefaultSize int `env:"BLOCK_DEFAULT_SIZE" envDefault:"1024"`
}

func NewConfig() *Config {
	return &Config{
		DedupMaxEntries:           10000,
		DedupExpiration:           time.Second * 30,
		AckTimeout:                time.Second * 2,
		AckRandomFactor:           1.5,
		MaxRetransmit:             4,
		DelayedTransactionTimeout: time.Second * 120,
		TickInterval:              time.Second,
		ForceConFreq:              20,
		EndpointQueueLimit:        0,
		CriticalOptTest:           true,
		BlockDefaultSize:          1024,
	}
}

// yamlConfig mirrors Config for file loading; durations are written in Go
// notation ("30s", "2m").
type yamlConfig struct {
	DedupMaxEntries           *int     `yaml:"dedup_max_entries"`
	DedupExpiration           *string  `yaml:"dedup_expiration"`
	AckTimeout                *string  `yaml:"ack_timeout"`
	AckRandomFactor           *float64 `yaml:"ack_random_factor"`
	MaxRetransmit             *int     `yaml:"max_retransmit"`
	DelayedTransactionTimeout *string  `yaml:"delayed_transaction_timeout"`
	TickInterval              *string  `yaml:"tick_interval"`
	ForceConFreq              *int     `yaml:"force_con_freq"`
	EndpointQueueLimit        *int     `yaml:"endpoint_queue_limit"`
	CriticalOptTest           *bool    `yaml:"critical_opt_test"`
	BlockDefaultSize          *int     `yaml:"block_default_size"`
}

// ConfigFromFile loads a yaml config, unset fields keep their defaults.
func ConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var yc yamlConfig
	if err = yaml.Unmarshal(data, &yc); err != nil {
		return nil, err
	}

	conf := NewConfig()
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setDuration := func(dst *time.Duration, src *string) error {
		if src == nil {
			return nil
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
	setInt(&conf.DedupMaxEntries, yc.DedupMaxEntries)
	setInt(&conf.MaxRetransmit, yc.MaxRetransmit)
	setInt(&conf.ForceConFreq, yc.ForceConFreq)
	setInt(&conf.EndpointQueueLimit, yc.EndpointQueueLimit)
	setInt(&conf.BlockDefaultSize, yc.BlockDefaultSize)
	if yc.AckRandomFactor != nil {
		conf.AckRandomFactor = *yc.AckRandomFactor
	}
	if yc.CriticalOptTest != nil {
		conf.CriticalOptTest = *yc.CriticalOptTest
	}
	for _, pair := range []struct {
		dst *time.Duration
		src *string
	}{
		{&conf.DedupExpiration, yc.DedupExpiration},
		{&conf.AckTimeout, yc.AckTimeout},
		{&conf.DelayedTransactionTimeout, yc.DelayedTransactionTimeout},
		{&conf.TickInterval, yc.TickInterval},
	} {
		if err = setDuration(pair.dst, pair.src); err != nil {
			return nil, err
		}
	}
	return conf, nil
}

// ConfigFromEnv loads config from COAP_* environment variables.
func ConfigFromEnv() (*Config, error) {
	conf := &Config{}
	if err := env.Parse(conf, env.Options{Prefix: "COAP_"}); err != nil {
		return nil, err
	}
	return conf, nil
}

func randomString(length int) string {
	const a = "01234567890ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	var bytes = make([]byte, length)
	rand.Read(bytes)
	for i, b := range bytes {
		bytes[i] = a[b%byte(len(a))]
	}
	return string(bytes)
}
