package fetch

import (
	"codefolio-backend/internal/components/assert"
	"codefolio-backend/internal/components/telemetry"
	"codefolio-backend/lib/restyutil"
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"
)

const (
	report_client_get     = "client.get"
	report_client_post    = "client.post"
	report_client_decode  = "client.decode"
	report_client_graphql = "client.graphql"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

var tracer = otel.Tracer("codefolio.internal.fetch")

type Options struct {
	// Timeout is the hard limit of a single request.
	Timeout time.Duration
	// RatePerSecond and Burst configure the shared request limiter.
	RatePerSecond float64
	Burst         int
	UserAgent     string
	// Hosts restricts redirects to the given hostnames, empty allows all.
	Hosts []string
	// CacheMB and CacheTTL enable the response cache when both are positive.
	CacheMB  int
	CacheTTL time.Duration
	// Output receives request/response dumps while debug logging is enabled.
	Output restyutil.InstrumentOutput
}

func DefaultOptions() Options {
	return Options{
		Timeout:       time.Second * 15,
		RatePerSecond: 2,
		Burst:         2,
		UserAgent:     DefaultUserAgent,
	}
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code int
	URL  string
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.Code)
}

// Client issues calls against public platform APIs, it holds no per-user state.
type Client struct {
	http    *resty.Client
	cache   cacheProvider
	timeout time.Duration
	tel     telemetry.API
}

func NewClient(opts Options, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("fetch", tel)

	defaults := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = defaults.RatePerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = defaults.Burst
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaults.UserAgent
	}

	httpClient := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)

	httpClient.SetHeader("user-agent", opts.UserAgent)
	httpClient.SetHeader("accept-language", "en-US,en;q=0.9")
	if len(opts.Hosts) > 0 {
		httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(opts.Hosts...))
	}
	httpClient.SetTimeout(opts.Timeout)

	// max burst >= requests per second just means that no requests will be dropped
	rateLimiter := rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	instrumentReports(httpClient, tel)
	restyutil.InstrumentClient(httpClient, tracer, opts.Output)

	return &Client{
		http:    httpClient,
		cache:   newCacheProvider(opts.CacheMB, int(opts.CacheTTL.Seconds())),
		timeout: opts.Timeout,
		tel:     tel,
	}, nil
}

func cacheKey(rawUrl string, query map[string]string) string {
	if len(query) == 0 {
		return rawUrl
	}
	values := url.Values{}
	for k, v := range query {
		values.Set(k, v)
	}
	return rawUrl + "?" + values.Encode()
}

// Get fetches a url and returns the body. Unless fresh is set, a cached body
// may be returned.
func (c *Client) Get(ctx context.Context, rawUrl string, query map[string]string, fresh bool) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "fetch.get")
	defer span.End()

	key := cacheKey(rawUrl, query)
	if !fresh {
		body, ok := c.cache.Get(key)
		if ok {
			c.tel.ReportDebug("cache hit", key)
			return body, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(rawUrl)
	if err != nil {
		c.tel.ReportWarning(report_client_get, err, rawUrl)
		return nil, fmt.Errorf("get %s: %w", rawUrl, err)
	}
	if res.IsError() {
		return nil, &StatusError{Code: res.StatusCode(), URL: rawUrl, Body: res.Body()}
	}

	body := res.Body()
	c.cache.Set(key, body)
	return body, nil
}

// GetJSON is Get followed by decoding the body into out.
func (c *Client) GetJSON(ctx context.Context, rawUrl string, query map[string]string, fresh bool, out any) ([]byte, error) {
	body, err := c.Get(ctx, rawUrl, query, fresh)
	if err != nil {
		return nil, err
	}
	err = json.Unmarshal(body, out)
	if err != nil {
		c.tel.ReportWarning(report_client_decode, err, rawUrl)
		return body, &DecodeError{URL: rawUrl, Err: err}
	}
	return body, nil
}

// PostJSON sends body as json and decodes the response into out, responses are never cached.
func (c *Client) PostJSON(ctx context.Context, rawUrl string, headers map[string]string, body any, out any) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "fetch.post")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetHeader("content-type", "application/json").
		SetBody(payload).
		Post(rawUrl)
	if err != nil {
		c.tel.ReportWarning(report_client_post, err, rawUrl)
		return nil, fmt.Errorf("post %s: %w", rawUrl, err)
	}
	if res.IsError() {
		return res.Body(), &StatusError{Code: res.StatusCode(), URL: rawUrl, Body: res.Body()}
	}

	err = json.Unmarshal(res.Body(), out)
	if err != nil {
		c.tel.ReportWarning(report_client_decode, err, rawUrl)
		return res.Body(), &DecodeError{URL: rawUrl, Err: err}
	}
	return res.Body(), nil
}

// DecodeError means the platform answered with a payload of an unexpected shape.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.URL, e.Err.Error())
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
