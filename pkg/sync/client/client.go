package client

//go:generate mockery -name Client
//go:generate mockery -name PlaybookClient
//go:generate mockery -name ActorClient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/sidkik/amp/pkg/errors"
	"github.com/sidkik/amp/pkg/sync"
	"github.com/sidkik/amp/pkg/version"
)

// RequestIDHeader identifies a request in the client and server logs.
const RequestIDHeader = "X-Request-Id"

// DefaultTimeout bounds each request to the server, including the upload of
// its body.
const DefaultTimeout = 30 * time.Second

// NoTimeout disables the request timeout.
const NoTimeout time.Duration = -1

// Client is the interface for talking to an amp server.
type Client interface {
	Playbooks() PlaybookClient
	Actors() ActorClient
}

// PlaybookClient manages playbooks.
type PlaybookClient interface {
	Create(ctx context.Context, payload PlaybookPayload) (Playbook, error)
	Start(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// ActorClient manages the actors inside a playbook.
type ActorClient interface {
	Sync(ctx context.Context, playbookID, name string, req sync.Request) error
}

// Playbook is a playbook as returned by the server.
type Playbook struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// PlaybookPayload is the body used to create a playbook.
type PlaybookPayload struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Preface     Preface `json:"preface"`
	Live        bool    `json:"live"`
}

// Preface is what the playbook is created from. Currently only a raw
// manifest is supported.
type Preface struct {
	Manifest string `json:"manifest"`
}

// ErrorResponse is the body the server responds with on failure.
type ErrorResponse struct {
	Message string `json:"message"`
}

// Options configures a Client.
type Options struct {
	// Token is sent as a bearer token if set.
	Token string

	// Timeout bounds each request. Zero uses DefaultTimeout, and NoTimeout
	// (or any negative value) disables it.
	Timeout time.Duration

	// RateLimit is the maximum number of requests per second. Zero means no
	// limit.
	RateLimit float64
}

type client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// New returns a Client for the server at `server`.
func New(server string, opts Options) (Client, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, errors.WithContext(err, "parse server url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.NewFriendlyError("Invalid server address %q. "+
			"It must start with http:// or https://.", server)
	}

	httpClient := &http.Client{}
	if opts.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}

	switch {
	case opts.Timeout == 0:
		httpClient.Timeout = DefaultTimeout
	case opts.Timeout > 0:
		httpClient.Timeout = opts.Timeout
	}

	c := &client{
		baseURL: strings.TrimRight(server, "/") + "/v1",
		http:    httpClient,
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return c, nil
}

func (c *client) Playbooks() PlaybookClient {
	return playbookClient{c}
}

func (c *client) Actors() ActorClient {
	return actorClient{c}
}

type playbookClient struct {
	*client
}

func (c playbookClient) Create(ctx context.Context, payload PlaybookPayload) (Playbook, error) {
	var playbook Playbook
	err := c.do(ctx, "create playbook", http.MethodPost, "/playbooks", payload, &playbook)
	if err != nil {
		return Playbook{}, err
	}
	return playbook, nil
}

func (c playbookClient) Start(ctx context.Context, id string) error {
	path := fmt.Sprintf("/playbooks/%s/actions/start", url.PathEscape(id))
	return c.do(ctx, "start playbook", http.MethodPost, path, nil, nil)
}

func (c playbookClient) Delete(ctx context.Context, id string) error {
	path := fmt.Sprintf("/playbooks/%s", url.PathEscape(id))
	return c.do(ctx, "delete playbook", http.MethodDelete, path, nil, nil)
}

type actorClient struct {
	*client
}

func (c actorClient) Sync(ctx context.Context, playbookID, name string, req sync.Request) error {
	path := fmt.Sprintf("/actors/%s/%s/sync",
		url.PathEscape(playbookID), url.PathEscape(name))
	return c.do(ctx, "sync", http.MethodPost, path, req, nil)
}

// do sends a JSON request and decodes the JSON response into `out`, if it's
// non-nil. Failures to reach the server, and error responses, are returned
// as errors.ClientError.
func (c *client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errors.ClientError{Op: op, Err: err}
		}
	}

	var reqBody io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return errors.WithContext(err, "marshal request")
		}
		reqBody = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return errors.WithContext(err, "create request")
	}

	requestID := uuid.New().String()
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log.WithFields(log.Fields{
		"method":    method,
		"path":      path,
		"requestID": requestID,
	}).Debug("Sending request")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.ClientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.ClientError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        readErrorResponse(resp.Body),
		}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.ClientError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        errors.WithContext(err, "decode response"),
		}
	}
	return nil
}

func readErrorResponse(body io.Reader) error {
	respBytes, err := ioutil.ReadAll(io.LimitReader(body, 64*1024))
	if err != nil {
		return errors.WithContext(err, "read response")
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(respBytes, &errResp); err == nil && errResp.Message != "" {
		return errors.New(errResp.Message)
	}

	if msg := strings.TrimSpace(string(respBytes)); msg != "" {
		return errors.New(msg)
	}
	return nil
}
