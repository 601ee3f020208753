package shardqueue

import "time"

// Config tunes a ShardExecutor. Zero values fall back to the defaults
// applied in NewShardExecutor.
type Config struct {
	// Shards is the number of worker goroutines. Jobs for the same key
	// always land on the same shard.
	Shards int

	// QueueSize is the buffered capacity of each shard's queue.
	QueueSize int

	// EnqueueTimeout bounds how long Submit blocks waiting for queue
	// space before reporting back-pressure.
	EnqueueTimeout time.Duration

	// MaxAttempts caps how many times a failing recoverable job runs
	// before its error is handed to ErrorHandler.
	MaxAttempts int

	// BaseBackoff is the initial retry delay; it doubles per attempt up
	// to MaxInterval.
	BaseBackoff time.Duration
	MaxInterval time.Duration

	// ErrorHandler receives terminal job errors: irrecoverable failures,
	// exhausted retries, and cancelled contexts. Optional.
	ErrorHandler func(error)
}
