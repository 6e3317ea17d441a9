package fetch

import (
	"codefolio-backend/internal/components/telemetry"
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	report_client_request   = "client.request"
	report_client_response  = "client.response"
	report_client_throttled = "client.throttled"
)

type reportHooks struct {
	tel telemetry.API
	seq *atomic.Uint64
}

// instrumentReports reports every exchange as debug messages, throttling
// responses as warnings and transport failures as a broken client.
func instrumentReports(client *resty.Client, tel telemetry.API) {
	h := reportHooks{tel: tel, seq: &atomic.Uint64{}}
	client.OnBeforeRequest(h.onBeforeRequest)
	client.OnAfterResponse(h.onAfterResponse)
	client.OnError(h.onError)
}

type exchangeKeyType struct{}

var exchangeKey exchangeKeyType

type exchange struct {
	id    uint64
	host  string
	start time.Time
}

func requestHost(rawUrl string) string {
	u, err := url.Parse(rawUrl)
	if err != nil {
		return ""
	}
	return u.Host
}

func (h reportHooks) onBeforeRequest(_ *resty.Client, req *resty.Request) error {
	ex := exchange{
		id:   h.seq.Add(1),
		host: requestHost(req.URL),
		// only durations are derived from start, so wall time is fine here
		start: time.Now(),
	}
	h.tel.ReportDebug(report_client_request, ex.id, req.Method, req.URL)
	req.SetContext(context.WithValue(req.Context(), exchangeKey, ex))
	return nil
}

func (h reportHooks) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	ex, ok := res.Request.Context().Value(exchangeKey).(exchange)
	if !ok {
		return nil
	}
	elapsed := time.Since(ex.start)

	switch res.StatusCode() {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		h.tel.ReportWarning(
			report_client_throttled,
			telemetry.KV{Key: "host", Value: ex.host},
			telemetry.KV{Key: "status", Value: res.StatusCode()},
			telemetry.KV{Key: "retry_after", Value: res.Header().Get("retry-after")},
		)
	}
	h.tel.ReportDebug(report_client_response, ex.id, elapsed.String(), res.Status())
	return nil
}

func (h reportHooks) onError(req *resty.Request, err error) {
	var elapsed time.Duration
	ex, ok := req.Context().Value(exchangeKey).(exchange)
	if ok {
		elapsed = time.Since(ex.start)
	}
	// canceled jobs are not a broken client
	if errors.Is(req.Context().Err(), context.Canceled) {
		h.tel.ReportDebug(report_client_response, ex.id, "canceled", err)
		return
	}
	h.tel.ReportBroken(
		report_client_response,
		err,
		telemetry.KV{Key: "host", Value: ex.host},
		req.Method,
		elapsed,
	)
}
