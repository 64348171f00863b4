package metadata

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/eida/wfcc/pkg/consistency/model"
)

const (
	stationQueryPath = "/fdsnws/station/1/query"
	DefaultTimeout   = 5 * time.Minute
	DefaultRetries   = 3
	maxLineSize      = 1 << 20
)

// ErrNoData is returned when the station service answers 204/404, which for a
// node-wide channel query means the inventory is unusable.
var ErrNoData = errors.New("station service returned no data")

// statusError is an unexpected HTTP status from the station service.
type statusError struct {
	code int
	url  string
}

func (e statusError) Error() string {
	return fmt.Sprintf("station service %s answered %d %s", e.url, e.code, http.StatusText(e.code))
}

// FDSNClient reads channel level inventory from an FDSN station web service
// in text format.
type FDSNClient struct {
	endpoint   string
	httpClient *http.Client
	retries    uint
	backOff    backoff.BackOff
}

type ClientOption func(*FDSNClient)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(f *FDSNClient) {
		f.httpClient = c
	}
}

// WithRetries sets how many times a request is attempted in total.
func WithRetries(n uint) ClientOption {
	return func(f *FDSNClient) {
		f.retries = n
	}
}

// WithBackOff sets the delay policy between attempts.
func WithBackOff(b backoff.BackOff) ClientOption {
	return func(f *FDSNClient) {
		f.backOff = b
	}
}

// WithTimeout sets the overall timeout of one request.
func WithTimeout(d time.Duration) ClientOption {
	return func(f *FDSNClient) {
		f.httpClient.Timeout = d
	}
}

// NewFDSNClient creates a client for endpoint, which is either a bare host
// name (queried over https) or a base URL.
func NewFDSNClient(endpoint string, opts ...ClientOption) *FDSNClient {
	c := &FDSNClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   DefaultTimeout,
		},
		retries: DefaultRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QueryURL returns the channel level text query for the configured endpoint.
func (c *FDSNClient) QueryURL() string {
	base := c.endpoint
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	q := url.Values{}
	q.Set("level", "channel")
	q.Set("format", "text")
	q.Set("nodata", "404")
	return strings.TrimSuffix(base, "/") + stationQueryPath + "?" + q.Encode()
}

// Channels fetches the inventory and streams every channel epoch to cb.
func (c *FDSNClient) Channels(ctx context.Context, cb func(model.MetadataEntry) error) error {
	queryURL := c.QueryURL()
	opts := []backoff.RetryOption{
		backoff.WithMaxTries(c.retries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warnw("station service request failed, retrying", "url", queryURL, "in", next, "err", err)
		}),
	}
	if c.backOff != nil {
		opts = append(opts, backoff.WithBackOff(c.backOff))
	}

	resp, err := backoff.Retry(ctx, func() (*http.Response, error) {
		return c.get(ctx, queryURL)
	}, opts...)
	if err != nil {
		return fmt.Errorf("querying %s: %w", queryURL, err)
	}
	defer resp.Body.Close()

	stats, err := ParseText(resp.Body, cb)
	if err != nil {
		return fmt.Errorf("reading station text from %s: %w", queryURL, err)
	}
	if stats.Malformed > 0 {
		log.Warnw("skipped malformed station lines", "count", stats.Malformed)
	}
	return nil
}

func (c *FDSNClient) get(ctx context.Context, queryURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusNoContent, resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, backoff.Permanent(ErrNoData)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, statusError{code: resp.StatusCode, url: queryURL}
	default:
		resp.Body.Close()
		return nil, backoff.Permanent(statusError{code: resp.StatusCode, url: queryURL})
	}
}

// ParseStats counts what ParseText saw.
type ParseStats struct {
	Lines     int
	Malformed int
}

// timeLayouts are the time formats station services use in text output.
var timeLayouts = []string{
	"2006-01-02T15:04:05.999999Z07:00",
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseText parses the FDSN station text format at channel level: pipe
// separated, comment lines starting with '#', the first four columns being
// Network|Station|Location|Channel and the last two StartTime|EndTime.
func ParseText(r io.Reader, cb func(model.MetadataEntry) error) (ParseStats, error) {
	var stats ParseStats
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		stats.Lines++

		entry, err := parseLine(line)
		if err != nil {
			log.Debugw("malformed station line", "line", line, "err", err)
			stats.Malformed++
			continue
		}
		if err := cb(entry); err != nil {
			return stats, err
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

func parseLine(line string) (model.MetadataEntry, error) {
	fields := strings.Split(line, "|")
	if len(fields) < 6 {
		return model.MetadataEntry{}, fmt.Errorf("%d columns, want at least 6", len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	key := model.ChannelKey{
		Network:  fields[0],
		Station:  fields[1],
		Location: strings.TrimSpace(strings.ReplaceAll(fields[2], "--", "")),
		Channel:  fields[3],
	}
	if key.Network == "" || key.Station == "" || key.Channel == "" {
		return model.MetadataEntry{}, errors.New("empty network, station or channel code")
	}

	start, err := parseTime(fields[len(fields)-2])
	if err != nil {
		return model.MetadataEntry{}, fmt.Errorf("start time: %w", err)
	}
	end, err := parseTime(fields[len(fields)-1])
	if err != nil {
		return model.MetadataEntry{}, fmt.Errorf("end time: %w", err)
	}
	return model.MetadataEntry{ChannelKey: key, Epoch: model.Epoch{Start: start, End: end}}, nil
}

// parseTime returns the zero time for an empty value, which stands for an
// open epoch.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
