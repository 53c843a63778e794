package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/kingithegreat/AquaProject-sub000/internal/config"
	"github.com/kingithegreat/AquaProject-sub000/internal/domain"
)

// Client talks to the remote document store over its REST surface. Writes
// go through a token-bucket limiter: creates are billed operations and the
// queue may burst after a long offline stretch.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zerolog.Logger
}

func NewClient(cfg config.RemoteConfig, logger *zerolog.Logger) *Client {
	rps := cfg.WriteRPS
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.WriteBurst
	if burst <= 0 {
		burst = 3
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     logger,
	}
}

type createResponse struct {
	ID string `json:"id"`
}

type queryResponse struct {
	Documents []struct {
		ID   string                 `json:"id"`
		Data map[string]interface{} `json:"data"`
	} `json:"documents"`
}

// Create writes one document and returns its server-assigned id.
func (c *Client) Create(ctx context.Context, collection string, data map[string]interface{}) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/%s", c.baseURL, url.PathEscape(collection))
	var resp createResponse
	if err := c.doPost(ctx, endpoint, data, &resp); err != nil {
		return "", fmt.Errorf("create document: %w", err)
	}
	return resp.ID, nil
}

// QueryByField returns documents whose field equals value.
func (c *Client) QueryByField(ctx context.Context, collection, field, value string) ([]domain.Document, error) {
	endpoint := fmt.Sprintf("%s/v1/%s?field=%s&value=%s",
		c.baseURL, url.PathEscape(collection), url.QueryEscape(field), url.QueryEscape(value))

	var resp queryResponse
	if err := c.doGet(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}

	docs := make([]domain.Document, 0, len(resp.Documents))
	for _, d := range resp.Documents {
		docs = append(docs, domain.Document{ID: d.ID, Data: d.Data})
	}
	return docs, nil
}

func (c *Client) doGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) doPost(ctx context.Context, endpoint string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	return dec.Decode(out)
}

func (c *Client) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
}
