package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"walletfeed/internal/config"
	"walletfeed/internal/domain"
	"walletfeed/internal/metrics"
	"walletfeed/internal/order"
	"walletfeed/internal/security"

	"gitlab.com/nevasik7/alerting/logger"
)

// TokenMinter is the part of the signer the client needs.
type TokenMinter interface {
	Mint(sub string) (string, error)
}

var _ TokenMinter = (*security.RS256Signer)(nil)

// Client talks to the history backend over HTTP. It implements Provider and
// always reports IsFromCache=false.
type Client struct {
	log logger.Logger

	baseURL    string
	httpClient *http.Client
	pageSize   int

	signer  TokenMinter
	subject string
}

func NewClient(log logger.Logger, cfg *config.HistoryConfig, signer TokenMinter, subject string) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("history config cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("history base_url is empty")
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 60
	}

	return &Client{
		log:        log,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		pageSize:   pageSize,
		signer:     signer,
		subject:    subject,
	}, nil
}

type pageResponse struct {
	Activities []*domain.Activity `json:"activities"`
	LoadedAll  bool               `json:"loadedAll"`
}

func (c *Client) FetchPage(ctx context.Context, accountID, slug string, before *domain.Activity, limit int) (*Page, error) {
	if limit <= 0 {
		limit = c.pageSize
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if slug != "" {
		q.Set("slug", slug)
	}
	if before != nil {
		q.Set("beforeTimestamp", strconv.FormatInt(before.Timestamp, 10))
		q.Set("beforeId", before.ID)
	}

	endpoint := fmt.Sprintf("%s/accounts/%s/activities?%s", c.baseURL, url.PathEscape(accountID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build history request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if c.signer != nil {
		token, err := c.signer.Mint(c.subject)
		if err != nil {
			return nil, fmt.Errorf("failed to mint history token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.PageFetchErrors.Inc()
		return nil, fmt.Errorf("history request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.PageFetchErrors.Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("history backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed pageResponse
	if err = json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		metrics.PageFetchErrors.Inc()
		return nil, fmt.Errorf("failed to decode history page: %w", err)
	}

	// the backend promises newest-first, but a shifted page is cheaper to fix
	// here than to chase through the merge diagnostics
	activities := order.SortActivities(parsed.Activities)

	metrics.PagesFetched.WithLabelValues("network").Inc()
	c.log.Debugf("Fetched history page: account=%s slug=%q before=%v got=%d loadedAll=%v",
		accountID, slug, before != nil, len(activities), parsed.LoadedAll)

	return &Page{
		Activities: activities,
		LoadedAll:  parsed.LoadedAll,
	}, nil
}
