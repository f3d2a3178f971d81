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

package readers

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"

	"github.com/aaronlmathis/streametl"
)

// KinesisReaderError provides structured error information for Kinesis reader operations
type KinesisReaderError struct {
	Op  string // Operation that failed (e.g., "list_shards", "get_shard_iterator", "get_records")
	Err error  // Underlying error
}

func (e *KinesisReaderError) Error() string {
	return fmt.Sprintf("kinesis reader %s: %v", e.Op, e.Err)
}

func (e *KinesisReaderError) Unwrap() error {
	return e.Err
}

// KinesisEventReader implements DataSource over the entries of a Lambda Kinesis event.
// Each entry's data is one JSON record.
type KinesisEventReader struct {
	entries []events.KinesisEventRecord
	pos     int
}

// NewKinesisEventReader creates a reader over the event's entries, in delivery order.
func NewKinesisEventReader(event events.KinesisEvent) *KinesisEventReader {
	return &KinesisEventReader{entries: event.Records}
}

// Len returns the number of entries in the event.
func (k *KinesisEventReader) Len() int {
	return len(k.entries)
}

// Read implements the DataSource interface. A payload that does not decode yields a
// *PayloadError; the following Read continues with the next entry.
func (k *KinesisEventReader) Read(ctx context.Context) (streametl.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k.pos >= len(k.entries) {
		return nil, io.EOF
	}

	position := k.pos
	k.pos++

	record, err := DecodeRecord(k.entries[position].Kinesis.Data)
	if err != nil {
		return nil, &PayloadError{Source: "kinesis_event", Position: position, Err: err}
	}
	return record, nil
}

// Close implements the DataSource interface.
func (k *KinesisEventReader) Close() error {
	return nil
}

// KinesisAPI is the subset of the Kinesis client used by KinesisShardReader.
type KinesisAPI interface {
	ListShards(ctx context.Context, params *kinesis.ListShardsInput, optFns ...func(*kinesis.Options)) (*kinesis.ListShardsOutput, error)
	GetShardIterator(ctx context.Context, params *kinesis.GetShardIteratorInput, optFns ...func(*kinesis.Options)) (*kinesis.GetShardIteratorOutput, error)
	GetRecords(ctx context.Context, params *kinesis.GetRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.GetRecordsOutput, error)
}

// KinesisReaderOptions configures the shard reader.
type KinesisReaderOptions struct {
	StreamName   string                  // Stream to read
	ShardIDs     []string                // Shards to read in order; empty means all shards of the stream
	IteratorType types.ShardIteratorType // Where to start in each shard
	StartTime    time.Time               // Start position for AT_TIMESTAMP
	Limit        int32                   // Records per GetRecords call
	MaxRecords   int                     // Stop after this many records; 0 = until caught up
	PollInterval time.Duration           // Wait between empty GetRecords calls
	MaxEmptyPoll int                     // Empty polls tolerated while still behind the tip
}

// ReaderOptionKinesis represents a configuration function for KinesisShardReader
type ReaderOptionKinesis func(*KinesisReaderOptions)

func WithKinesisStream(name string) ReaderOptionKinesis {
	return func(opts *KinesisReaderOptions) {
		opts.StreamName = name
	}
}

func WithKinesisShards(shardIDs ...string) ReaderOptionKinesis {
	return func(opts *KinesisReaderOptions) {
		opts.ShardIDs = append([]string(nil), shardIDs...)
	}
}

func WithKinesisIteratorType(iteratorType types.ShardIteratorType) ReaderOptionKinesis {
	return func(opts *KinesisReaderOptions) {
		opts.IteratorType = iteratorType
	}
}

func WithKinesisStartTime(start time.Time) ReaderOptionKinesis {
	return func(opts *KinesisReaderOptions) {
		opts.IteratorType = types.ShardIteratorTypeAtTimestamp
		opts.StartTime = start
	}
}

func WithKinesisMaxRecords(max int) ReaderOptionKinesis {
	return func(opts *KinesisReaderOptions) {
		opts.MaxRecords = max
	}
}

func WithKinesisPollInterval(interval time.Duration) ReaderOptionKinesis {
	return func(opts *KinesisReaderOptions) {
		opts.PollInterval = interval
	}
}

// KinesisReaderStats holds statistics about the shard reader.
type KinesisReaderStats struct {
	ShardsRead     int64
	GetRecordCalls int64
	RecordsRead    int64
	DecodeErrors   int64
	LastSequence   string
}

// KinesisShardReader implements DataSource by replaying records from Kinesis shards with
// GetRecords. Shards are read one after another until each is caught up with its tip.
type KinesisShardReader struct {
	client    KinesisAPI
	opts      KinesisReaderOptions
	shards    []string
	shardIdx  int
	iterator  *string
	buffer    []types.Record
	position  int
	emptyPoll int
	listed    bool
	stats     KinesisReaderStats
	mu        sync.Mutex
}

// NewKinesisShardReader creates a shard reader. Shards are listed lazily on the first Read.
func NewKinesisShardReader(client KinesisAPI, options ...ReaderOptionKinesis) (*KinesisShardReader, error) {
	opts := KinesisReaderOptions{
		IteratorType: types.ShardIteratorTypeTrimHorizon,
		Limit:        1000,
		PollInterval: 200 * time.Millisecond,
		MaxEmptyPoll: 3,
	}
	for _, option := range options {
		option(&opts)
	}

	if client == nil {
		return nil, &KinesisReaderError{Op: "validate_options", Err: fmt.Errorf("client is required")}
	}
	if opts.StreamName == "" {
		return nil, &KinesisReaderError{Op: "validate_options", Err: fmt.Errorf("stream name is required")}
	}

	return &KinesisShardReader{
		client: client,
		opts:   opts,
		shards: append([]string(nil), opts.ShardIDs...),
	}, nil
}

// Read implements the DataSource interface.
func (k *KinesisShardReader) Read(ctx context.Context) (streametl.Record, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.opts.MaxRecords > 0 && k.stats.RecordsRead+k.stats.DecodeErrors >= int64(k.opts.MaxRecords) {
		return nil, io.EOF
	}

	if !k.listed {
		if len(k.shards) == 0 {
			if err := k.listShards(ctx); err != nil {
				return nil, &KinesisReaderError{Op: "list_shards", Err: err}
			}
		}
		k.listed = true
	}

	for len(k.buffer) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		done, err := k.fetch(ctx)
		if err != nil {
			return nil, err
		}
		if done {
			return nil, io.EOF
		}
	}

	next := k.buffer[0]
	k.buffer = k.buffer[1:]
	position := k.position
	k.position++
	k.stats.LastSequence = aws.ToString(next.SequenceNumber)

	record, err := DecodeRecord(next.Data)
	if err != nil {
		k.stats.DecodeErrors++
		return nil, &PayloadError{Source: "kinesis_shard", Position: position, Err: err}
	}
	k.stats.RecordsRead++
	return record, nil
}

// fetch fills the buffer from the current shard, moving to the next shard when the current
// one is exhausted. It reports done when no shards remain.
func (k *KinesisShardReader) fetch(ctx context.Context) (bool, error) {
	if k.iterator == nil {
		if k.shardIdx >= len(k.shards) {
			return true, nil
		}
		if err := k.openShard(ctx, k.shards[k.shardIdx]); err != nil {
			return false, &KinesisReaderError{Op: "get_shard_iterator", Err: err}
		}
	}

	out, err := k.client.GetRecords(ctx, &kinesis.GetRecordsInput{
		ShardIterator: k.iterator,
		Limit:         aws.Int32(k.opts.Limit),
	})
	if err != nil {
		return false, &KinesisReaderError{Op: "get_records", Err: err}
	}
	k.stats.GetRecordCalls++
	k.buffer = append(k.buffer, out.Records...)
	k.iterator = out.NextShardIterator

	caughtUp := aws.ToInt64(out.MillisBehindLatest) == 0
	if len(out.Records) == 0 {
		k.emptyPoll++
		if caughtUp || k.emptyPoll >= k.opts.MaxEmptyPoll {
			k.iterator = nil
		} else if k.opts.PollInterval > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(k.opts.PollInterval):
			}
		}
	} else {
		k.emptyPoll = 0
	}

	if k.iterator == nil {
		// Shard closed or caught up.
		k.shardIdx++
		k.stats.ShardsRead++
		k.emptyPoll = 0
	}
	return false, nil
}

func (k *KinesisShardReader) openShard(ctx context.Context, shardID string) error {
	input := &kinesis.GetShardIteratorInput{
		StreamName:        aws.String(k.opts.StreamName),
		ShardId:           aws.String(shardID),
		ShardIteratorType: k.opts.IteratorType,
	}
	if k.opts.IteratorType == types.ShardIteratorTypeAtTimestamp {
		input.Timestamp = aws.Time(k.opts.StartTime)
	}

	out, err := k.client.GetShardIterator(ctx, input)
	if err != nil {
		return fmt.Errorf("shard %s: %w", shardID, err)
	}
	if out.ShardIterator == nil {
		return fmt.Errorf("shard %s: no iterator returned", shardID)
	}
	k.iterator = out.ShardIterator
	return nil
}

func (k *KinesisShardReader) listShards(ctx context.Context) error {
	input := &kinesis.ListShardsInput{StreamName: aws.String(k.opts.StreamName)}
	for {
		out, err := k.client.ListShards(ctx, input)
		if err != nil {
			return err
		}
		for _, shard := range out.Shards {
			k.shards = append(k.shards, aws.ToString(shard.ShardId))
		}
		if out.NextToken == nil {
			break
		}
		// StreamName must not be set together with NextToken.
		input = &kinesis.ListShardsInput{NextToken: out.NextToken}
	}
	if len(k.shards) == 0 {
		return fmt.Errorf("stream %s has no shards", k.opts.StreamName)
	}
	return nil
}

// Stats returns reader statistics.
func (k *KinesisShardReader) Stats() KinesisReaderStats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.stats
}

// Close implements the DataSource interface.
func (k *KinesisShardReader) Close() error {
	return nil
}
