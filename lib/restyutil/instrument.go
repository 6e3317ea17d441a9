package restyutil

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/semconv/v1.13.0/httpconv"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentOutput receives a rendered exchange under a unique, filename safe id.
type InstrumentOutput interface {
	Write(id string, contents string)
}

type instrumenter struct {
	output InstrumentOutput
	tracer trace.Tracer
	seq    *atomic.Uint64
}

// InstrumentClient wraps every request of the client in a span named after the
// target host. `tracer` defaults to a library name of "resty" when nil. When
// `output` is set and debug logging is enabled every exchange is dumped to it.
func InstrumentClient(client *resty.Client, tracer trace.Tracer, output InstrumentOutput) {
	if tracer == nil {
		tracer = otel.Tracer("resty")
	}
	i := instrumenter{output: output, tracer: tracer, seq: &atomic.Uint64{}}
	client.OnBeforeRequest(i.onBeforeRequest)
	client.OnAfterResponse(i.onAfterResponse)
	client.OnError(i.onError)
}

type dumpIdKeyType struct{}

var dumpIdKey dumpIdKeyType

func (i instrumenter) dumping(ctx context.Context) bool {
	return i.output != nil && slog.Default().Enabled(ctx, slog.LevelDebug)
}

func hostOf(rawUrl string) string {
	u, err := url.Parse(rawUrl)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}

func (i instrumenter) onBeforeRequest(_ *resty.Client, req *resty.Request) error {
	host := hostOf(req.URL)
	ctx, _ := i.tracer.Start(
		req.Context(),
		fmt.Sprintf("http %s %s", req.Method, host),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("codefolio.http.host", host)),
	)

	if i.dumping(ctx) {
		id := fmt.Sprintf("%05d-%s-%s", i.seq.Add(1), host, req.Method)
		slog.DebugContext(ctx, "start request", "method", req.Method, "url", req.URL, "dump", id)
		ctx = context.WithValue(ctx, dumpIdKey, id)
	}

	req.SetContext(ctx)
	return nil
}

func (i instrumenter) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	ctx := res.Request.Context()
	span := trace.SpanFromContext(ctx)
	defer span.End()

	// RawRequest is only populated once the request has been sent
	if res.Request.RawRequest != nil {
		span.SetAttributes(httpconv.ClientRequest(res.Request.RawRequest)...)
	}
	if res.RawResponse != nil {
		span.SetAttributes(httpconv.ClientResponse(res.RawResponse)...)
	}
	if res.IsError() {
		span.SetStatus(codes.Error, res.Status())
	}

	id, ok := ctx.Value(dumpIdKey).(string)
	if ok && i.dumping(ctx) {
		i.output.Write(id, formatHttpMessage(res))
	}
	return nil
}

func (i instrumenter) onError(req *resty.Request, err error) {
	ctx := req.Context()
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if req.RawRequest != nil {
		span.SetAttributes(httpconv.ClientRequest(req.RawRequest)...)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "request failed")

	slog.DebugContext(ctx, "request failed", "method", req.Method, "url", req.URL, "err", err)
}
