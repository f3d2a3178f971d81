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

package main

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aaronlmathis/streametl/awsclient"
	"github.com/aaronlmathis/streametl/config"
	"github.com/aaronlmathis/streametl/enrich"
	"github.com/aaronlmathis/streametl/handler"
	"github.com/aaronlmathis/streametl/output"
	"github.com/aaronlmathis/streametl/processor"
)

// env builds the runtime pieces shared by the commands. AWS config is resolved only when
// something needs it, so local runs work without credentials.
type env struct {
	cfg    *config.Config
	awsCfg *aws.Config
}

func newEnv(c *config.Config) *env {
	return &env{cfg: c}
}

func (e *env) aws(ctx context.Context) (aws.Config, error) {
	if e.awsCfg == nil {
		awsCfg, err := awsclient.Load(ctx, e.cfg.AWS)
		if err != nil {
			return aws.Config{}, err
		}
		e.awsCfg = &awsCfg
	}
	return *e.awsCfg, nil
}

// location picks S3 when a bucket is configured, the local directory otherwise.
func (e *env) location(ctx context.Context) (output.Location, error) {
	if e.cfg.Output.Bucket != "" {
		awsCfg, err := e.aws(ctx)
		if err != nil {
			return nil, err
		}
		return output.NewS3Location(awsclient.NewS3(awsCfg, e.cfg.AWS), e.cfg.Output.Bucket), nil
	}
	if e.cfg.Output.Dir != "" {
		return output.FileLocation{Dir: e.cfg.Output.Dir}, nil
	}
	return nil, eris.New("no output location configured")
}

func (e *env) processor() (*processor.Processor, error) {
	policy, err := processor.ParseDecodePolicy(e.cfg.Decode.Policy)
	if err != nil {
		return nil, eris.Wrap(err, "decode policy")
	}
	enricher := enrich.New(
		enrich.WithSource(e.cfg.Enrich.Source),
		enrich.WithVersion(e.cfg.Enrich.Version),
	)
	return processor.New(
		processor.WithEnricher(enricher),
		processor.WithDecodePolicy(policy),
		processor.WithLogger(zap.L()),
	), nil
}

func (e *env) handler(ctx context.Context) (*handler.Handler, error) {
	format, err := output.ParseFormat(e.cfg.Output.Format)
	if err != nil {
		return nil, eris.Wrap(err, "output format")
	}
	loc, err := e.location(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "output location")
	}
	proc, err := e.processor()
	if err != nil {
		return nil, err
	}

	opts := []handler.Option{
		handler.WithOutput(loc),
		handler.WithProcessor(proc),
		handler.WithFormat(format),
		handler.WithKeyPrefix(e.cfg.Output.Prefix),
		handler.WithLogger(zap.L()),
	}
	if e.cfg.Warehouse.DSN != "" {
		opts = append(opts, handler.WithMirrors(output.PostgresLocation{
			DSN:   e.cfg.Warehouse.DSN,
			Table: e.cfg.Warehouse.Table,
		}))
	}
	return handler.New(opts...)
}
