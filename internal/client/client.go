// Package client provides HTTP clients for the five RPC services. Each
// client satisfies the matching contract in internal/service, so the
// orchestrator is indifferent to whether a service is in-process or
// remote.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shiva/dgdo/internal/errs"
	"github.com/shiva/dgdo/internal/handler"
)

// defaultTimeout bounds a single HTTP exchange when the caller's context
// carries no deadline of its own.
const defaultTimeout = 5 * time.Second

// base is the shared HTTP plumbing: JSON in, JSON out, typed errors back.
type base struct {
	baseURL string
	http    *http.Client
}

func newBase(baseURL string) base {
	return base{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// call performs one JSON exchange. A non-2xx response is decoded into the
// error envelope and rebuilt as a typed error; transport failures come
// back as UNAVAILABLE so the workflow retries them.
func (b *base) call(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errs.Wrap(errs.KindInternal, "encode request", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reqBody)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindUnavailable, fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Message == "" {
			envelope.Message = strings.TrimSpace(string(raw))
		}
		kind := handler.KindFromWire(resp.StatusCode, envelope.Error)
		return errs.Newf(kind, "%s %s: %s", method, path, envelope.Message)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Wrap(errs.KindInternal, "decode response", err)
	}
	return nil
}
