//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of StreamETL.
//
// StreamETL is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// StreamETL is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with StreamETL. If not, see https://www.gnu.org/licenses/.

// Package config loads StreamETL settings from streametl.yaml and the environment.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aaronlmathis/streametl/enrich"
	"github.com/aaronlmathis/streametl/output"
	"github.com/aaronlmathis/streametl/processor"
)

// Config holds the full application configuration.
type Config struct {
	Output    OutputConfig    `yaml:"output" mapstructure:"output"`
	AWS       AWSConfig       `yaml:"aws" mapstructure:"aws"`
	Decode    DecodeConfig    `yaml:"decode" mapstructure:"decode"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Warehouse WarehouseConfig `yaml:"warehouse" mapstructure:"warehouse"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// OutputConfig selects where processed batches land.
type OutputConfig struct {
	Bucket string `yaml:"bucket" mapstructure:"bucket"`
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
	Format string `yaml:"format" mapstructure:"format"`
	Dir    string `yaml:"dir" mapstructure:"dir"`
}

// AWSConfig overrides the SDK's default resolution. Endpoint and PathStyle are for
// S3-compatible stores such as MinIO or LocalStack.
type AWSConfig struct {
	Region    string `yaml:"region" mapstructure:"region"`
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	PathStyle bool   `yaml:"path_style" mapstructure:"path_style"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
}

// DecodeConfig holds the payload decode policy.
type DecodeConfig struct {
	Policy string `yaml:"policy" mapstructure:"policy"`
}

// EnrichConfig holds the metadata tags stamped on every record.
type EnrichConfig struct {
	Source  string `yaml:"source" mapstructure:"source"`
	Version string `yaml:"version" mapstructure:"version"`
}

// WarehouseConfig configures the optional PostgreSQL mirror. Empty DSN disables it.
type WarehouseConfig struct {
	DSN   string `yaml:"dsn" mapstructure:"dsn"`
	Table string `yaml:"table" mapstructure:"table"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from streametl.yaml (if present) and STREAMETL_* environment
// variables. PROCESSED_BUCKET is honoured for the output bucket.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("streametl")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("STREAMETL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("output.bucket", "STREAMETL_OUTPUT_BUCKET", "PROCESSED_BUCKET"); err != nil {
		return nil, eris.Wrap(err, "config: bind env")
	}

	// Defaults
	// Keys without a default are invisible to Unmarshal under AutomaticEnv.
	v.SetDefault("output.dir", "")
	v.SetDefault("output.prefix", output.DefaultKeyPrefix)
	v.SetDefault("output.format", string(output.FormatCSV))
	v.SetDefault("aws.region", "")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.path_style", false)
	v.SetDefault("aws.access_key", "")
	v.SetDefault("aws.secret_key", "")
	v.SetDefault("decode.policy", string(processor.FailBatch))
	v.SetDefault("enrich.source", enrich.DefaultSource)
	v.SetDefault("enrich.version", enrich.DefaultVersion)
	v.SetDefault("warehouse.dsn", "")
	v.SetDefault("warehouse.table", "processed_records")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks values that would otherwise fail mid-invocation.
func (c *Config) Validate() error {
	if _, err := output.ParseFormat(c.Output.Format); err != nil {
		return eris.Wrap(err, "config: output.format")
	}
	if _, err := processor.ParseDecodePolicy(c.Decode.Policy); err != nil {
		return eris.Wrap(err, "config: decode.policy")
	}
	if c.Output.Bucket == "" && c.Output.Dir == "" {
		return eris.New("config: output.bucket (PROCESSED_BUCKET) or output.dir is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return eris.Errorf("config: server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
