package decode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"forkpilot/internal/config"
	"forkpilot/internal/pkg/apperrors"
)

// Compile-time check
var _ ABIFetcher = (*HTTPFetcher)(nil)

// HTTPFetcher fetches contract ABIs from an external metadata service.
type HTTPFetcher struct {
	client *fasthttp.Client
	url    string
	logger *zap.Logger
}

func NewHTTPFetcher(cfg config.ABIConfig, logger *zap.Logger) *HTTPFetcher {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPFetcher{
		client: &fasthttp.Client{ReadTimeout: timeout},
		url:    cfg.URL,
		logger: logger.Named("ABIFetcher"),
	}
}

// FetchABI returns the raw ABI JSON array for the contract at address.
func (f *HTTPFetcher) FetchABI(ctx context.Context, chainID int64, address string) (string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s?chainId=%d&address=%s", f.url, chainID, address))
	req.Header.SetMethod(fasthttp.MethodGet)

	timeout := f.client.ReadTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}

	if err := f.client.DoTimeout(req, resp, timeout); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) {
			return "", fmt.Errorf("%w: abi lookup for %s timed out: %v", apperrors.ErrTimeout, address, err)
		}
		return "", fmt.Errorf("%w: abi lookup for %s failed: %v", apperrors.ErrExternalServiceFailure, address, err)
	}
	if resp.StatusCode() == fasthttp.StatusNotFound {
		return "", fmt.Errorf("%w: no ABI for %s", apperrors.ErrNotFound, address)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return "", fmt.Errorf("%w: abi service returned status %d", apperrors.ErrExternalServiceFailure, resp.StatusCode())
	}

	f.logger.Debug("Fetched ABI", zap.Int64("chainId", chainID), zap.String("address", address))
	return string(resp.Body()), nil
}
