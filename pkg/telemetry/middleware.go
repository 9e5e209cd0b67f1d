package telemetry

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPMiddleware traces cmd/api's inbound requests, named by method+path
// rather than otelhttp's default operation name so a trace backend groups
// spans by route instead of by the single static "http.request" label.
func HTTPMiddleware(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "ergo.api.request",
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// WrapHTTPClient traces the outbound calls action.HTTPExecutor makes to a
// task's configured webhook URL (spec.md §4.G's http executor), so a slow
// or failing third party shows up as its own span distinct from the
// action engine's own work.
func WrapHTTPClient(client *http.Client) *http.Client {
	client.Transport = otelhttp.NewTransport(client.Transport,
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return "ergo.action.http_call " + r.Method
		}),
	)
	return client
}
