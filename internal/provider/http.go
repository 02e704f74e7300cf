package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"forkpilot/internal/entity"
	"forkpilot/internal/pkg/apperrors"
)

// Compile-time check
var _ Provider = (*HTTP)(nil)

// HTTP forwards provider requests to a JSON-RPC endpoint over HTTP.
type HTTP struct {
	client  *fasthttp.Client
	url     string
	headers map[string]string
	nextID  atomic.Uint64
	logger  *zap.Logger
}

// NewHTTP creates a provider backed by the JSON-RPC endpoint at url.
func NewHTTP(url string, timeout time.Duration, logger *zap.Logger) *HTTP {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTP{
		client: &fasthttp.Client{
			ReadTimeout: timeout,
		},
		url:    url,
		logger: logger.Named("HTTPProvider"),
	}
}

// WithHeader adds a header to every request, e.g. a fork-service access key.
func (p *HTTP) WithHeader(key, value string) *HTTP {
	if p.headers == nil {
		p.headers = map[string]string{}
	}
	p.headers[key] = value
	return p
}

type jsonrpcCall struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      uint64            `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type jsonrpcResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      json.RawMessage  `json:"id"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *entity.RPCError `json:"error,omitempty"`
}

func (p *HTTP) Request(ctx context.Context, reqBody entity.RPCRequest) (json.RawMessage, error) {
	params := reqBody.Params
	if params == nil {
		params = []json.RawMessage{}
	}
	payload, err := json.Marshal(jsonrpcCall{
		JSONRPC: "2.0",
		ID:      p.nextID.Add(1),
		Method:  reqBody.Method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
	req.SetBody(payload)

	timeout := p.client.ReadTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}

	if err := p.client.DoTimeout(req, resp, timeout); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) {
			return nil, fmt.Errorf("%w: rpc request %s to %s timed out: %v",
				apperrors.ErrTimeout, reqBody.Method, p.url, err)
		}
		p.logger.Debug("RPC request failed",
			zap.String("method", reqBody.Method), zap.String("url", p.url), zap.Error(err))
		return nil, fmt.Errorf("%w: rpc request %s to %s failed: %v",
			apperrors.ErrExternalServiceFailure, reqBody.Method, p.url, err)
	}

	if resp.StatusCode() == fasthttp.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: rpc %s returned status 429", apperrors.ErrRateLimited, p.url)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("%w: rpc %s returned non-OK http status: %d",
			apperrors.ErrExternalServiceFailure, p.url, resp.StatusCode())
	}

	var rpcResp jsonrpcResponse
	if err := json.Unmarshal(resp.Body(), &rpcResp); err != nil {
		return nil, fmt.Errorf("%w: rpc %s returned invalid JSON response: %v",
			apperrors.ErrExternalServiceFailure, p.url, err)
	}
	if rpcResp.Error != nil {
		p.logger.Debug("RPC returned JSON-RPC error",
			zap.String("method", reqBody.Method),
			zap.Int("errorCode", rpcResp.Error.Code),
			zap.String("errorMessage", rpcResp.Error.Message))
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}
