package hcb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultEndpoint is the production SOAP endpoint
	DefaultEndpoint = "https://api.synovia.com/SynoviaApi.svc"

	// DefaultTimeout bounds a single HTTP round trip
	DefaultTimeout = 15 * time.Second

	// DefaultMaxRetries is the number of retries after a failed transport attempt
	DefaultMaxRetries = 3

	appVersion = "3.6.0"
	appName    = "hctb"
	userAgent  = "hctb/3.6.0 App-Press/3.6.0"

	actionResolveSchool = "s1100"
	actionResolveParent = "s1157"
	actionFetchStops    = "s1158"

	maxResponseBytes = 4 << 20
)

// Option configures the SOAP client
type Option func(*soapClient)

// WithEndpoint overrides the service endpoint
func WithEndpoint(endpoint string) Option {
	return func(c *soapClient) {
		c.endpoint = endpoint
	}
}

// WithHTTPClient sets the HTTP client used for requests
func WithHTTPClient(hc *http.Client) Option {
	return func(c *soapClient) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client
func WithTimeout(timeout time.Duration) Option {
	return func(c *soapClient) {
		c.httpClient.Timeout = timeout
	}
}

// WithMaxRetries sets how many times a failed transport attempt is retried
func WithMaxRetries(retries uint) Option {
	return func(c *soapClient) {
		c.maxRetries = retries
	}
}

// WithInitialRetryInterval sets the first backoff interval
func WithInitialRetryInterval(d time.Duration) Option {
	return func(c *soapClient) {
		c.initialInterval = d
	}
}

type soapClient struct {
	endpoint        string
	httpClient      *http.Client
	maxRetries      uint
	initialInterval time.Duration
}

// NewSOAPClient creates a Client speaking the SOAP protocol of the service.
func NewSOAPClient(opts ...Option) Client {
	c := &soapClient{
		endpoint:        DefaultEndpoint,
		httpClient:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:      DefaultMaxRetries,
		initialInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveSchool implements Client
func (c *soapClient) ResolveSchool(ctx context.Context, schoolCode string) (string, error) {
	api, err := c.call(ctx, actionResolveSchool, schoolCode)
	if err != nil {
		return "", err
	}
	if api.ValidateCustomer == nil || api.ValidateCustomer.Customer == nil || api.ValidateCustomer.Customer.ID == "" {
		return "", &ResolutionError{SchoolCode: schoolCode}
	}
	return api.ValidateCustomer.Customer.ID, nil
}

// ResolveParent implements Client
func (c *soapClient) ResolveParent(ctx context.Context, schoolID, username, password string) (*ParentInfo, error) {
	api, err := c.call(ctx, actionResolveParent,
		schoolID, username, password, "LookupItem_Source_Android", "Android", appVersion, "")
	if err != nil {
		return nil, err
	}
	login := api.ParentLogin
	if login == nil || login.Account == nil || login.Account.ID == "" {
		return nil, &AuthError{Username: username}
	}

	info := &ParentInfo{AccountID: login.Account.ID}
	for i, s := range login.Students {
		if s.EntityID == "" {
			return nil, &MalformedResponseError{
				Action: actionResolveParent,
				Detail: fmt.Sprintf("student %d has no id", i),
			}
		}
		info.Students = append(info.Students, Student{ID: s.EntityID, FirstName: s.FirstName})
	}
	return info, nil
}

// FetchStops implements Client
func (c *soapClient) FetchStops(
	ctx context.Context,
	schoolID, parentID, studentID string,
	token SegmentToken,
) (*StopResponse, error) {
	api, err := c.call(ctx, actionFetchStops,
		schoolID, parentID, studentID, string(token), "true", "false", "10", "14", "english")
	if err != nil {
		return nil, err
	}
	if api.StopsAndScans == nil {
		return nil, &MalformedResponseError{Action: actionFetchStops, Detail: "missing GetStudentStopsAndScans"}
	}

	resp := &StopResponse{}
	stops := api.StopsAndScans.Stops
	if stops == nil {
		return resp, nil
	}

	if stops.VehicleLocation != nil {
		loc, err := stops.VehicleLocation.toLocation()
		if err != nil {
			return nil, &MalformedResponseError{Action: actionFetchStops, Detail: "vehicle location", Err: err}
		}
		resp.VehicleLocation = loc
	}
	for i := range stops.StudentStops {
		stop, err := stops.StudentStops[i].toStop()
		if err != nil {
			return nil, &MalformedResponseError{
				Action: actionFetchStops,
				Detail: fmt.Sprintf("stop %d", i),
				Err:    err,
			}
		}
		resp.Stops = append(resp.Stops, stop)
	}
	return resp, nil
}

// call posts one SOAP action, retrying transport failures with exponential
// backoff. Schema errors and client-side HTTP errors are not retried.
func (c *soapClient) call(ctx context.Context, action string, params ...string) (*synoviaXML, error) {
	envelope := buildEnvelope(action, params...)

	operation := func() (*synoviaXML, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(envelope))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to build %s request: %w", action, err))
		}
		req.Header.Set("app-version", appVersion)
		req.Header.Set("app-name", appName)
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Content-Type", "text/xml; charset=utf-8")
		req.Header.Set("SOAPAction", "http://tempuri.org/ISynoviaApi/"+action)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			slog.Debug("SOAP request failed", "action", action, "error", err)
			return nil, fmt.Errorf("%s request failed: %w", action, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s response: %w", action, err)
		}

		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return nil, &StatusError{StatusCode: resp.StatusCode, URL: c.endpoint, Message: action}
		}
		if resp.StatusCode != http.StatusOK {
			return nil, backoff.Permanent(&StatusError{
				StatusCode: resp.StatusCode,
				URL:        c.endpoint,
				Message:    action,
			})
		}

		api, err := decodeEnvelope(action, body)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return api, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval

	api, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("Retrying SOAP call",
				"action", action,
				"error", err,
				"retry_in", next.String())
		}),
	)
	if err != nil {
		return nil, err
	}
	return api, nil
}

// String is used in logs
func (t SegmentToken) String() string {
	if seg, ok := t.Segment(); ok {
		return seg.String()
	}
	return strconv.Quote(string(t))
}
