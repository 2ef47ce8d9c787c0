package sandbox

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	v8 "rogchap.com/v8go"
)

const (
	fetchTimeout      = 30 * time.Second
	maxFetchBodyBytes = 10 << 20 // 10 MB
	maxFetchRedirects = 10
)

// injectFetchAPI registers __host_fetch(request), a synchronous op that
// throws on any failure (blocked origin, network error, bad redirect).
// bootstrap.js wraps it in an `async function fetch(...)`, so a thrown
// Go-side exception naturally becomes a rejected Promise and a returned
// value naturally becomes a resolved one — no hand-rolled PromiseResolver
// plumbing is needed on the Go side for this.
func injectFetchAPI(iso *v8.Isolate, global *v8.ObjectTemplate, cfg FetchConfig) error {
	fn := v8.NewFunctionTemplate(iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		ctx := info.Context()
		args := info.Args()
		if len(args) < 1 || !args[0].IsObject() {
			return throwJSError(iso, "fetch: expected a request object argument")
		}

		req, err := parseFetchRequest(ctx, args[0])
		if err != nil {
			return throwJSError(iso, "fetch: "+err.Error())
		}

		resp, err := doFetch(req, cfg, 0)
		if err != nil {
			return throwJSError(iso, err.Error())
		}

		val, err := toJSValue(ctx, resp)
		if err != nil {
			return throwJSError(iso, "fetch: "+err.Error())
		}
		return val
	})
	if err := global.Set("__host_fetch", fn, v8.ReadOnly); err != nil {
		return fmt.Errorf("set __host_fetch: %w", err)
	}
	return nil
}

// fetchRequest mirrors the original implementation's FetchRequest shape.
type fetchRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
}

// fetchResponse mirrors the original implementation's FetchResponse shape
// and is the exact object JSON-round-tripped back into the isolate.
type fetchResponse struct {
	OK         bool              `json:"ok"`
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	URL        string            `json:"url"`
	Body       string            `json:"body"`
}

func parseFetchRequest(ctx *v8.Context, obj *v8.Value) (fetchRequest, error) {
	urlVal, err := obj.Object().Get("url")
	if err != nil || !urlVal.IsString() {
		return fetchRequest{}, fmt.Errorf("request.url must be a string")
	}

	req := fetchRequest{URL: urlVal.String(), Method: "GET"}

	if methodVal, err := obj.Object().Get("method"); err == nil && methodVal.IsString() {
		req.Method = methodVal.String()
	}
	if bodyVal, err := obj.Object().Get("body"); err == nil && bodyVal.IsString() {
		req.Body = bodyVal.String()
	}
	if headersVal, err := obj.Object().Get("headers"); err == nil && headersVal.IsObject() {
		headers, err := jsValueToStringMap(ctx, headersVal)
		if err != nil {
			return fetchRequest{}, fmt.Errorf("request.headers: %w", err)
		}
		req.Headers = headers
	}
	return req, nil
}

var supportedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// doFetch validates the origin allowlist, performs the request with
// redirects disabled, and re-validates + recurses on same-origin redirects,
// mirroring do_fetch in the original implementation exactly: the
// re-issued request on a redirect carries the ORIGINAL request's headers
// and drops the body, forcing GET.
func doFetch(req fetchRequest, cfg FetchConfig, depth int) (fetchResponse, error) {
	if depth > maxFetchRedirects {
		return fetchResponse{}, fmt.Errorf("fetch: too many redirects")
	}

	parsed, err := url.Parse(req.URL)
	if err != nil {
		return fetchResponse{}, fmt.Errorf("fetch: invalid URL %q: %w", req.URL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fetchResponse{}, fmt.Errorf("fetch: unsupported URL scheme %q", parsed.Scheme)
	}

	origin := originOf(parsed)
	if !cfg.IsOriginAllowed(origin) {
		return fetchResponse{}, fmt.Errorf("fetch blocked: origin %q is not in the allowlist", origin)
	}

	method := strings.ToUpper(req.Method)
	if !supportedMethods[method] {
		return fetchResponse{}, fmt.Errorf("fetch: unsupported HTTP method %q", req.Method)
	}

	var bodyReader io.Reader
	if req.Body != "" {
		bodyReader = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequest(method, req.URL, bodyReader)
	if err != nil {
		return fetchResponse{}, fmt.Errorf("fetch: create request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	client := &http.Client{
		Timeout: fetchTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fetchResponse{}, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		if location := resp.Header.Get("Location"); location != "" {
			redirectURL, err := resp.Request.URL.Parse(location)
			if err != nil {
				return fetchResponse{}, fmt.Errorf("fetch: invalid redirect location: %w", err)
			}

			if originOf(redirectURL) != origin {
				return fetchResponse{}, fmt.Errorf(
					"fetch blocked: redirect to different origin %q (original: %q)",
					originOf(redirectURL), origin)
			}
			if !cfg.IsOriginAllowed(originOf(redirectURL)) {
				return fetchResponse{}, fmt.Errorf(
					"fetch blocked: redirect origin %q is not in the allowlist", originOf(redirectURL))
			}

			return doFetch(fetchRequest{
				URL:     redirectURL.String(),
				Method:  "GET",
				Headers: req.Headers,
				Body:    "",
			}, cfg, depth+1)
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBodyBytes))
	if err != nil {
		return fetchResponse{}, fmt.Errorf("fetch: read response body: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		headers[strings.ToLower(k)] = strings.Join(v, ", ")
	}

	return fetchResponse{
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Headers:    headers,
		URL:        resp.Request.URL.String(),
		Body:       string(body),
	}, nil
}

// originOf returns scheme://host[:port], matching url::Url::origin's
// ascii_serialization that the original implementation compares against
// the allowlist.
func originOf(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

