package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when an upstream API answers 404 for a slug or ticker.
var ErrNotFound = errors.New("not found")

const (
	defaultTimeout = 30 * time.Second
	maxAttempts    = 3
)

type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.Code, e.Body)
}

type jsonClient struct {
	http  *http.Client
	sleep func(ctx context.Context, d time.Duration) error
}

func newJSONClient(client *http.Client) jsonClient {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return jsonClient{http: client, sleep: sleepCtx}
}

// getJSON decodes a GET response into out, retrying transport errors and 5xx responses.
func (c jsonClient) getJSON(ctx context.Context, rawURL string, out any) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, time.Duration(attempt)*time.Second); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		err = decodeResponse(rawURL, resp, out)
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Code >= 500 {
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func decodeResponse(rawURL string, resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{URL: rawURL, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// flexFloat accepts both JSON numbers and numeric strings; Gamma mixes the two.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}

// jsonStringList decodes fields that arrive as a JSON-encoded array inside a string,
// e.g. "[\"Yes\", \"No\"]". A plain array is accepted too.
type jsonStringList []string

func (l *jsonStringList) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*l = nil
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err == nil {
		if strings.TrimSpace(raw) == "" {
			*l = nil
			return nil
		}
		b = []byte(raw)
	}
	var items []any
	if err := json.Unmarshal(b, &items); err != nil {
		return fmt.Errorf("decode list: %w", err)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, fmt.Sprint(it))
	}
	*l = out
	return nil
}
