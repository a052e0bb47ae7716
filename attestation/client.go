package attestation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/config"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/db"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/evmclient"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/metrics"
)

const (
	statusComplete = "complete"

	messageHashNotFound = "Message hash not found"

	requestTimeout = 10 * time.Second
	retryDelay     = 500 * time.Millisecond
)

type attestationResponse struct {
	Status      string `json:"status"`
	Attestation string `json:"attestation"`
	Error       string `json:"error"`
}

// Client reads attestations from the Circle attestation service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	attempts   uint
	retryDelay time.Duration
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewClient(cfg config.AttestationConfig, logger *zap.Logger, m *metrics.Metrics) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		attempts:   cfg.Attempts,
		retryDelay: retryDelay,
		logger:     logger.Named("attestation"),
		metrics:    m,
		now:        time.Now,
	}
}

// Fetch returns the attestation state of a message. Anything the service does not report as
// complete, including unknown hashes, comes back as a pending record.
func (c *Client) Fetch(ctx context.Context, hash common.Hash) (*db.AttestationRecord, error) {
	record, err := retry.DoWithData(func() (*db.AttestationRecord, error) {
		return c.fetch(ctx, hash)
	},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(evmclient.IsRetryable),
	)
	if err != nil {
		c.metrics.IncAttestationFetch("error")
		return nil, err
	}

	c.metrics.IncAttestationFetch(record.Status)
	return record, nil
}

func (c *Client) fetch(ctx context.Context, hash common.Hash) (*db.AttestationRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1/attestations/%s", c.baseURL, hash.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, evmclient.AsRetryable(err)
	}
	defer resp.Body.Close()

	pending := &db.AttestationRecord{MessageHash: hash, Status: db.AttestationPending, FetchedAt: c.now()}
	if err := checkResponse(resp); err != nil {
		switch {
		case resp.StatusCode == http.StatusNotFound, strings.Contains(err.Error(), messageHashNotFound):
			return pending, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, &evmclient.RetryableRpcError{Kind: evmclient.KindRateLimit, Err: err}
		default:
			return nil, &evmclient.RetryableRpcError{Kind: evmclient.KindBadResponse, Err: err}
		}
	}

	var body attestationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &evmclient.RetryableRpcError{Kind: evmclient.KindBadResponse, Err: err}
	}
	if body.Status != statusComplete {
		c.logger.Debug("attestation pending", zap.Stringer("messageHash", hash), zap.String("status", body.Status))
		return pending, nil
	}

	attestation, err := hexutil.Decode(body.Attestation)
	if err != nil {
		return nil, &evmclient.RetryableRpcError{Kind: evmclient.KindBadResponse, Err: fmt.Errorf("attestation of %s: %w", hash.Hex(), err)}
	}
	return &db.AttestationRecord{
		MessageHash: hash,
		Status:      db.AttestationComplete,
		Attestation: attestation,
		FetchedAt:   c.now(),
	}, nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode != http.StatusOK {
		var errorBuf bytes.Buffer
		_, _ = errorBuf.ReadFrom(resp.Body)

		if errorBuf.Len() == 0 {
			return errors.New(resp.Status)
		}
		return fmt.Errorf("%s: %s", resp.Status, errorBuf.String())
	}

	return nil
}
