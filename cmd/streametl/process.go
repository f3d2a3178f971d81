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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/aaronlmathis/streametl"
	"github.com/aaronlmathis/streametl/awsclient"
	"github.com/aaronlmathis/streametl/readers"
)

var (
	processEvent      string
	processInput      string
	processSuffix     string
	processStream     string
	processShards     []string
	processSince      time.Duration
	processMaxRecords int
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process one batch from an event file, JSON lines or a Kinesis stream",
	Example: `  streametl process --event testdata/event.json
  streametl process --input records.jsonl
  streametl process --input s3://raw-bucket/2024/05/ --suffix .jsonl
  streametl process --stream transactions --since 1h --max-records 5000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e := newEnv(cfg)
		h, err := e.handler(ctx)
		if err != nil {
			return err
		}

		src, err := openSource(ctx, e, cmd.InOrStdin())
		if err != nil {
			return err
		}

		resp := h.Run(ctx, src)
		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return eris.Wrap(err, "encode response")
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))

		if resp.StatusCode >= 400 {
			return eris.Errorf("batch failed with status %d", resp.StatusCode)
		}
		return nil
	},
}

func init() {
	processCmd.Flags().StringVar(&processEvent, "event", "", "Kinesis event JSON file, as delivered to Lambda")
	processCmd.Flags().StringVar(&processInput, "input", "", "JSON lines file, - for stdin, or s3://bucket/prefix")
	processCmd.Flags().StringVar(&processSuffix, "suffix", "", "only read S3 keys with this suffix")
	processCmd.Flags().StringVar(&processStream, "stream", "", "Kinesis stream to replay")
	processCmd.Flags().StringSliceVar(&processShards, "shard", nil, "shard IDs to replay (default all)")
	processCmd.Flags().DurationVar(&processSince, "since", 0, "replay records newer than this (default from trim horizon)")
	processCmd.Flags().IntVar(&processMaxRecords, "max-records", 0, "stop after this many stream records (0 = until caught up)")
	processCmd.MarkFlagsMutuallyExclusive("event", "input", "stream")
	processCmd.MarkFlagsOneRequired("event", "input", "stream")
	rootCmd.AddCommand(processCmd)
}

// openSource returns the data source selected by the process flags.
func openSource(ctx context.Context, e *env, stdin io.Reader) (streametl.DataSource, error) {
	switch {
	case processEvent != "":
		return readEventFile(processEvent)

	case processInput == "-":
		return readers.NewJSONReader(io.NopCloser(stdin)), nil

	case processInput != "":
		if bucket, prefix, ok := parseS3URI(processInput); ok {
			awsCfg, err := e.aws(ctx)
			if err != nil {
				return nil, err
			}
			return readers.NewS3Reader(awsclient.NewS3(awsCfg, e.cfg.AWS),
				readers.WithS3Bucket(bucket),
				readers.WithS3Prefix(prefix),
				readers.WithS3Suffix(processSuffix))
		}
		f, err := os.Open(processInput)
		if err != nil {
			return nil, eris.Wrap(err, "open input")
		}
		return readers.NewJSONReader(f), nil

	case processStream != "":
		awsCfg, err := e.aws(ctx)
		if err != nil {
			return nil, err
		}
		opts := []readers.ReaderOptionKinesis{
			readers.WithKinesisStream(processStream),
			readers.WithKinesisShards(processShards...),
			readers.WithKinesisMaxRecords(processMaxRecords),
		}
		if processSince > 0 {
			opts = append(opts, readers.WithKinesisStartTime(time.Now().Add(-processSince)))
		}
		return readers.NewKinesisShardReader(awsclient.NewKinesis(awsCfg, e.cfg.AWS), opts...)
	}
	return nil, eris.New("one of --event, --input or --stream is required")
}

func readEventFile(path string) (streametl.DataSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read event file")
	}
	var event events.KinesisEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, eris.Wrap(err, "parse event file")
	}
	return readers.NewKinesisEventReader(event), nil
}

// parseS3URI splits s3://bucket/prefix. ok is false for anything else.
func parseS3URI(uri string) (bucket, prefix string, ok bool) {
	rest, found := strings.CutPrefix(uri, "s3://")
	if !found || rest == "" {
		return "", "", false
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", false
	}
	return bucket, prefix, true
}
