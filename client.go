// Package safi is the offline-resilient sync layer for the SAFi chat
// client. It mirrors server-authoritative conversation state locally,
// caches reads, queues unconfirmed writes for replay on reconnect, and
// reconciles optimistic edits against the server.
package safi

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jnamaya/SAFi-sub001/internal/httpcache"
	"github.com/jnamaya/SAFi-sub001/internal/kv"
	"github.com/jnamaya/SAFi-sub001/internal/mirror"
	"github.com/jnamaya/SAFi-sub001/internal/netmon"
	"github.com/jnamaya/SAFi-sub001/internal/queue"
	"github.com/jnamaya/SAFi-sub001/internal/shardqueue"
)

// Client composes the sync components: durable store, read cache, write
// queue, connectivity monitor, and the local conversation mirror. All
// orchestration flows (list load, switch, send, rename/delete/pin) hang
// off it; the UI consumes results through the configured Renderer.
type Client struct {
	baseURL  string
	http     *http.Client
	store    kv.Store
	exec     *shardqueue.ShardExecutor
	probe    Probe
	tokens   TokenStore
	renderer Renderer

	monitor *netmon.Monitor
	fetcher *httpcache.Fetcher
	queue   *queue.Queue
	mirror  *mirror.Mirror

	queueCfg      queue.Config
	auditInterval time.Duration
	auditAttempts int

	mu             sync.Mutex
	cur            *session
	inflightCancel context.CancelFunc

	closedOnce uint32
}

// New constructs a Client for the given backend base URL. Additional
// options can be provided via functional arguments.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		panic("baseURL cannot be empty")
	}

	c := &Client{
		baseURL:       trimSlash(baseURL),
		http:          &http.Client{Timeout: 30 * time.Second},
		auditInterval: 3 * time.Second,
		auditAttempts: 20,
	}

	// Auto-enable debug via env variable without changing code.
	if debugLoggingRequested() {
		opts = append(opts, WithDebugLogging(true))
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			panic(err)
		}
	}

	if c.store == nil {
		c.store = kv.NewMemStore()
	}
	if c.probe == nil {
		c.probe = netmon.NewManualProbe(true)
	}
	if c.renderer == nil {
		c.renderer = NopRenderer{}
	}
	if c.tokens == nil {
		c.tokens = NewKVTokenStore(c.store)
	}
	if c.exec == nil {
		c.exec = shardqueue.NewShardExecutor(shardqueue.Config{Shards: 4, QueueSize: 1000})
	}

	// Wrap the transport so every outgoing request carries the current
	// bearer token, re-read per request.
	c.wrapTransportWithToken()

	c.monitor = netmon.New(c.probe)
	c.mirror = mirror.New(c.store, c.exec)
	online := c.monitor.IsOnline
	c.fetcher = httpcache.NewFetcher(c.http, c.store, online, c.mirror.EvictOldCache)
	c.queue = queue.New(c.http, c.store, online, c.mirror.EvictOldCache, c.queueCfg)
	c.queue.OnDeadLetter = func(queue.Entry) {
		c.renderer.Notify("A change could not be saved to the server and was abandoned.")
	}

	return c
}

// Start reads the initial connectivity state, subscribes the write queue
// to reconnect events, and runs the one startup flush attempt. Flushing
// is otherwise edge-triggered only; see Kick for missed transitions.
func (c *Client) Start(ctx context.Context) {
	c.monitor.OnOnline(func(hctx context.Context) {
		c.queue.Flush(hctx)
	})
	c.monitor.Start(ctx)
	if c.monitor.IsOnline() {
		c.queue.Flush(ctx)
	}
}

// Kick re-probes connectivity, flushing the queue if a missed
// offline→online transition is discovered. Call on app resume.
func (c *Client) Kick(ctx context.Context) {
	c.monitor.Kick(ctx)
}

// IsOnline reports the last observed connectivity state.
func (c *Client) IsOnline() bool { return c.monitor.IsOnline() }

// Close stops the background executor and releases storage. Safe to call
// multiple times.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closedOnce, 0, 1) {
		return nil
	}
	c.StopGeneration()
	c.mu.Lock()
	if c.cur != nil {
		c.cur.cancel()
		c.cur = nil
	}
	c.mu.Unlock()
	if c.exec != nil {
		c.exec.Stop()
	}
	return c.store.Close()
}

func trimSlash(u string) string {
	for len(u) > 0 && u[len(u)-1] == '/' {
		u = u[:len(u)-1]
	}
	return u
}

// URL builders for the backend endpoints this layer talks to.

func (c *Client) listURL() string { return c.baseURL + "/api/conversations" }

func (c *Client) conversationURL(id string) string {
	return c.baseURL + "/api/conversations/" + id
}

func (c *Client) historyURL(id string) string {
	return c.conversationURL(id) + "/messages"
}

func (c *Client) auditURL(convoID, messageID string) string {
	return c.historyURL(convoID) + "/" + messageID + "/audit"
}
