package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dimfeld/ergo/internal/domain"
)

// HTTPExecutor is the "http" executor, grounded on
// original_source/tasks/actions/http_executor.rs's field set and result
// shape ({response, status}), adapted from reqwest to net/http.
type HTTPExecutor struct {
	// Client, when set, is used instead of constructing one per call
	// (tests inject one pointed at an httptest.Server).
	Client *http.Client
}

var httpTemplateFields = domain.TemplateFields{
	"url": {Format: domain.TemplateFieldFormat{Type: domain.FormatString}, Description: "The URL to request"},
	"method": {
		Format:      domain.TemplateFieldFormat{Type: domain.FormatChoice, Choices: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}, Min: intPtr(1), Max: intPtr(1)},
		Optional:    true,
		Description: "The HTTP method to use. Defaults to GET",
	},
	"user_agent": {Format: domain.TemplateFieldFormat{Type: domain.FormatString}, Optional: true, Description: "Use a custom user agent string (default is 'Ergo')"},
	"timeout":    {Format: domain.TemplateFieldFormat{Type: domain.FormatInteger}, Optional: true, Description: "The request timeout, in seconds. Default is 30 seconds"},
	"json":       {Format: domain.TemplateFieldFormat{Type: domain.FormatObject, Nested: true}, Optional: true, Description: "A JSON body to send with the request"},
	"body":       {Format: domain.TemplateFieldFormat{Type: domain.FormatString}, Optional: true, Description: "A raw string body to send with the request"},
	"query":      {Format: domain.TemplateFieldFormat{Type: domain.FormatObject}, Optional: true, Description: "Query string to send"},
	"headers":    {Format: domain.TemplateFieldFormat{Type: domain.FormatObject}, Optional: true, Description: "HTTP header values for the request"},
	"result_format": {
		Format:      domain.TemplateFieldFormat{Type: domain.FormatChoice, Choices: []string{"json", "string"}, Min: intPtr(1), Max: intPtr(1)},
		Optional:    true,
		Description: "How to process the result. Defaults to JSON",
	},
}

func intPtr(i int) *int { return &i }

func (e *HTTPExecutor) Name() string                         { return "http" }
func (e *HTTPExecutor) TemplateFields() domain.TemplateFields { return httpTemplateFields }

func (e *HTTPExecutor) Execute(ctx context.Context, values map[string]any) (map[string]any, error) {
	url, _ := values["url"].(string)
	if url == "" {
		return nil, domain.MissingFieldError{Field: "url"}
	}

	method := stringField(values, "method", "GET")
	userAgent := stringField(values, "user_agent", "Ergo")
	timeout := 30 * time.Second
	if t, ok := values["timeout"]; ok {
		if secs, err := toInt(t); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}

	body, contentType, err := requestBody(values)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, body)
	if err != nil {
		return nil, domain.FieldFormatError{Field: "url", Expected: "a valid URL"}
	}
	req.Header.Set("User-Agent", userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if headers, ok := values["headers"].(map[string]any); ok {
		for k, v := range headers {
			s, ok := v.(string)
			if !ok {
				return nil, domain.FieldFormatError{Field: "headers", Subfield: k, Expected: "string"}
			}
			req.Header.Set(k, s)
		}
	}
	if query, ok := values["query"].(map[string]any); ok {
		q := req.URL.Query()
		for k, v := range query {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		req.URL.RawQuery = q.Encode()
	}

	client := e.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http request returned status %d: %s", resp.StatusCode, string(respBody))
	}

	resultFormat := stringField(values, "result_format", "json")
	var response any
	if resultFormat == "string" {
		response = string(respBody)
	} else if len(respBody) == 0 {
		response = nil
	} else if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("decoding json response: %w", err)
	}

	return map[string]any{"response": response, "status": float64(resp.StatusCode)}, nil
}

func requestBody(values map[string]any) (io.Reader, string, error) {
	if j, ok := values["json"]; ok && j != nil {
		encoded, err := json.Marshal(j)
		if err != nil {
			return nil, "", domain.FieldFormatError{Field: "json", Expected: "valid JSON"}
		}
		return bytes.NewReader(encoded), "application/json", nil
	}
	if b, ok := values["body"].(string); ok && b != "" {
		return strings.NewReader(b), "", nil
	}
	return nil, "", nil
}

func stringField(values map[string]any, name, def string) string {
	v, ok := values[name]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return def
		}
		return t
	case []any:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return s
			}
		}
	}
	return def
}

func toInt(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case string:
		var i int64
		_, err := fmt.Sscanf(t, "%d", &i)
		return i, err
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}
