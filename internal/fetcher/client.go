package fetcher

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// DefaultBaseURL is the G2B contract information service root.
const DefaultBaseURL = "https://apis.data.go.kr/1230000/ao/CntrctInfoService"

// operationMap routes each business category to its service operation.
var operationMap = map[string]string{
	"goods":        "getCntrctInfoListThng",
	"construction": "getCntrctInfoListCnstwk",
	"services":     "getCntrctInfoListServc",
	"foreign":      "getCntrctInfoListFrgcpt",
}

// Operations returns the categories the client can fetch.
func Operations() []string {
	return []string{"goods", "construction", "services", "foreign"}
}

type Config struct {
	BaseURL    string
	APIKey     string
	PageSize   int
	MaxRetries int
	BaseDelay  time.Duration // first backoff step, doubled per attempt
	PageDelay  time.Duration // pacing between successful pages
	Timeout    time.Duration
	MaxPages   int
}

// Result carries whatever a fetch accumulated, even when it also returns
// an error, so partially collected pages are never thrown away.
type Result struct {
	Records   []ContractRecord
	Count     int
	CallsUsed int
}

type Client struct {
	cfg        Config
	httpClient *http.Client

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, newError(KindValidation, "", "api key is required", nil)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 999
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.PageDelay <= 0 {
		cfg.PageDelay = 100 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 500
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		sleep:      time.Sleep,
	}, nil
}

// Fetch collects every page of contracts for one (category, year, month)
// period, issuing at most budget requests. CallsUsed counts each issued
// request, retries included, since the provider bills quota per request
// regardless of outcome. When the budget runs out before the last page,
// Fetch returns ErrBudgetExhausted along with whatever was accumulated.
func (c *Client) Fetch(ctx context.Context, category string, year, month, budget int) (*Result, error) {
	res := &Result{}

	op, ok := operationMap[category]
	if !ok {
		return res, newError(KindValidation, "",
			fmt.Sprintf("unknown category %q", category), nil)
	}
	if month < 1 || month > 12 {
		return res, newError(KindValidation, "",
			fmt.Sprintf("invalid month %d", month), nil)
	}

	begin, end := monthWindow(year, month)
	log.Printf("Fetching %s %d-%02d (%s..%s)", category, year, month, begin, end)

	for page := 1; page <= c.cfg.MaxPages; page++ {
		env, err := c.fetchPage(ctx, op, begin, end, page, budget, res)
		if err != nil {
			return res, err
		}

		items := env.Body.Items
		if len(items) == 0 {
			break
		}

		for i := range items {
			items[i].CollectedYear = year
			items[i].CollectedMonth = month
		}
		res.Records = append(res.Records, items...)
		res.Count = len(res.Records)

		log.Printf("Page %d: %d items (total %d)", page, len(items), res.Count)

		// A short page means the provider has no further results.
		if len(items) < c.cfg.PageSize {
			break
		}

		c.sleep(c.cfg.PageDelay)
	}

	return res, nil
}

// fetchPage issues one request with bounded retries on network-class
// failures. Every attempt is counted against quota, so the budget is
// checked before each attempt, not just the first.
func (c *Client) fetchPage(ctx context.Context, op, begin, end string, page, budget int, res *Result) (*envelope, error) {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if res.CallsUsed >= budget {
			return nil, ErrBudgetExhausted
		}
		if attempt > 0 {
			delay := backoffDelay(attempt, c.cfg.BaseDelay)
			log.Printf("Retrying page %d in %v (attempt %d/%d): %v",
				page, delay, attempt, c.cfg.MaxRetries, lastErr)
			select {
			case <-ctx.Done():
				return nil, newError(KindNetwork, "", "fetch cancelled", ctx.Err())
			default:
			}
			c.sleep(delay)
		}

		env, err := c.doRequest(ctx, op, begin, end, page, res)
		if err == nil {
			return env, nil
		}
		lastErr = err

		if KindOf(err) != KindNetwork {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *Client) doRequest(ctx context.Context, op, begin, end string, page int, res *Result) (*envelope, error) {
	q := url.Values{}
	q.Set("serviceKey", c.cfg.APIKey)
	q.Set("numOfRows", strconv.Itoa(c.cfg.PageSize))
	q.Set("pageNo", strconv.Itoa(page))
	q.Set("inqryDiv", "1")
	q.Set("inqryBgnDt", begin)
	q.Set("inqryEndDt", end)

	reqURL := fmt.Sprintf("%s/%s?%s", c.cfg.BaseURL, op, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, newError(KindValidation, "", "failed to build request", err)
	}

	resp, err := c.httpClient.Do(req)
	res.CallsUsed++
	if err != nil {
		return nil, newError(KindNetwork, "", "request failed", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		io.Copy(io.Discard, resp.Body)
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindNetwork, "", "failed to read response body", err)
	}

	var env envelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, newError(KindParse, "", "malformed XML response",
			errors.Wrap(err, "decode envelope"))
	}

	if err := classifyResultCode(env.Header.ResultCode, env.Header.ResultMsg); err != nil {
		return nil, err
	}

	return &env, nil
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return newError(KindAuth, strconv.Itoa(status), "authentication rejected by provider", nil)
	case status == http.StatusTooManyRequests:
		return newError(KindRateLimit, strconv.Itoa(status), "provider throttled the request", nil)
	case status >= 500 || status == http.StatusRequestTimeout:
		return newError(KindNetwork, strconv.Itoa(status), "server-side failure", nil)
	default:
		return newError(KindAPIResponse, strconv.Itoa(status),
			fmt.Sprintf("unexpected HTTP status %d", status), nil)
	}
}

// classifyResultCode maps the provider's envelope codes onto the error
// taxonomy. "00" is success and "03" is the explicit no-data code, which is
// a normal terminal condition rather than a fault.
func classifyResultCode(code, msg string) error {
	switch code {
	case "00", "03", "":
		return nil
	case "30", "31", "32", "33":
		return newError(KindValidation, code, msg, nil)
	case "99":
		return newError(KindRateLimit, code, msg, nil)
	default:
		return newError(KindAPIResponse, code, msg, nil)
	}
}

// monthWindow returns the inclusive YYYYMMDDHHmm bounds for a month.
// time.Date normalizes day 0 of the next month to the last calendar day,
// which handles leap Februaries.
func monthWindow(year, month int) (string, string) {
	lastDay := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	begin := fmt.Sprintf("%04d%02d010000", year, month)
	end := fmt.Sprintf("%04d%02d%02d2359", year, month, lastDay)
	return begin, end
}

func backoffDelay(attempt int, base time.Duration) time.Duration {
	delay := base * time.Duration(1<<(attempt-1))
	jitter := time.Duration(rand.Int63n(int64(delay)/10 + 1))
	if delay+jitter > time.Minute {
		return time.Minute
	}
	return delay + jitter
}
