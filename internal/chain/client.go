package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dexmirror/internal/address"
	"dexmirror/internal/fetch"
)

const (
	// DefaultMaxAccountsPerCall is the getMultipleAccounts limit of public RPC nodes.
	DefaultMaxAccountsPerCall = 100

	EncodingBase64     = "base64"
	EncodingBase64Zstd = "base64+zstd"
)

var errClosed = errors.New("client closed")

// JSON-RPC 2.0 error codes.
const (
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// Options tunes how the client talks to the RPC node.
type Options struct {
	Commitment         string
	Encoding           string
	MaxAccountsPerCall int
	Concurrency        int
	MaxRetries         int
	RetryBackoff       time.Duration
	Logger             *zap.Logger
}

// Client is a Solana JSON-RPC client that implements fetch.Provider.
type Client struct {
	rpcClient *rpc.Client
	opts      Options
	logger    *zap.Logger

	zstdOnce sync.Once
	zstd     *zstd.Decoder
	zstdErr  error
}

var _ fetch.Provider = (*Client)(nil)

// NewClient dials the RPC URL.
func NewClient(ctx context.Context, rpcURL string, opts Options) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return newClient(rpcClient, opts)
}

func newClient(rpcClient *rpc.Client, opts Options) (*Client, error) {
	if opts.Encoding == "" {
		opts.Encoding = EncodingBase64
	}
	if opts.Encoding != EncodingBase64 && opts.Encoding != EncodingBase64Zstd {
		rpcClient.Close()
		return nil, fmt.Errorf("unsupported encoding: %s", opts.Encoding)
	}
	if opts.MaxAccountsPerCall <= 0 {
		opts.MaxAccountsPerCall = DefaultMaxAccountsPerCall
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		rpcClient: rpcClient,
		opts:      opts,
		logger:    logger,
	}, nil
}

// Close closes the underlying RPC client. Fetches must not be in flight.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
	// Settles the decoder state: later zstd payloads fail with errClosed.
	c.zstdOnce.Do(func() { c.zstdErr = errClosed })
	if c.zstd != nil {
		c.zstd.Close()
	}
}

// GetSlot returns the slot the node has reached at the configured commitment.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := c.rpcClient.CallContext(ctx, &slot, "getSlot", c.commitmentConfig()); err != nil {
		return 0, err
	}
	return slot, nil
}

// GetMultipleAccounts fetches addresses in chunks of MaxAccountsPerCall,
// running up to Concurrency chunks at once. A chunk that fails after retries
// marks only its own addresses as failed. Results keep request order.
func (c *Client) GetMultipleAccounts(ctx context.Context, addresses []address.Address) ([]fetch.Result, error) {
	chunks, err := fetch.Chunk(addresses, c.opts.MaxAccountsPerCall)
	if err != nil {
		return nil, err
	}

	results := make([]fetch.Result, len(addresses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	offset := 0
	for _, chunk := range chunks {
		chunk, start := chunk, offset
		offset += len(chunk)
		g.Go(func() error {
			copy(results[start:], c.fetchChunk(gctx, chunk))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) fetchChunk(ctx context.Context, chunk []address.Address) []fetch.Result {
	keys := make([]string, len(chunk))
	for i, addr := range chunk {
		keys[i] = addr.String()
	}

	var resp multipleAccountsResponse
	var receivedAt time.Time
	err := fetch.Retry(ctx, c.opts.MaxRetries, c.opts.RetryBackoff, func(ctx context.Context) error {
		start := time.Now()
		resp = multipleAccountsResponse{}
		err := c.rpcClient.CallContext(ctx, &resp, "getMultipleAccounts", keys, c.accountsConfig())
		if err != nil {
			c.logger.Warn("getMultipleAccounts failed", zap.Error(err), zap.Int("accounts", len(chunk)))
			if isRequestError(err) {
				return fetch.Permanent(err)
			}
			return err
		}
		receivedAt = midpoint(start, time.Now())
		return nil
	})
	if err != nil {
		return fetch.Failed(chunk, fmt.Errorf("getMultipleAccounts: %w", err))
	}
	if len(resp.Value) != len(chunk) {
		return fetch.Failed(chunk, fmt.Errorf("getMultipleAccounts returned %d accounts for %d keys", len(resp.Value), len(chunk)))
	}

	results := make([]fetch.Result, len(chunk))
	for i, addr := range chunk {
		res := fetch.Result{Address: addr}
		info := resp.Value[i]
		if info == nil {
			res.Err = fetch.ErrAccountNotFound
			results[i] = res
			continue
		}
		data, err := c.decodeData(info.Data)
		if err != nil {
			res.Err = fmt.Errorf("account data %s: %w", addr, err)
			results[i] = res
			continue
		}
		res.Data = data
		res.Slot = resp.Context.Slot
		res.ReceivedAt = receivedAt
		results[i] = res
	}
	return results
}

// isRequestError reports JSON-RPC errors caused by the request itself, which
// fail the same way on every attempt.
func isRequestError(err error) bool {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return false
	}
	switch rpcErr.ErrorCode() {
	case codeInvalidRequest, codeMethodNotFound, codeInvalidParams:
		return true
	}
	return false
}

// midpoint approximates when the node served a request, assuming the
// request and response legs take about the same time.
func midpoint(start, end time.Time) time.Time {
	return start.Add(end.Sub(start) / 2)
}

func (c *Client) commitmentConfig() map[string]interface{} {
	cfg := map[string]interface{}{}
	if c.opts.Commitment != "" {
		cfg["commitment"] = c.opts.Commitment
	}
	return cfg
}

func (c *Client) accountsConfig() map[string]interface{} {
	cfg := c.commitmentConfig()
	cfg["encoding"] = c.opts.Encoding
	return cfg
}
