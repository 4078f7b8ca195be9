// Package fwhttp provides an implementation of the firewatch backend contract over
// HTTP, with live subscriptions delivered as server-sent events.
//
// The expected service exposes documents at /docs/{path}, one-shot queries at /query,
// and SSE streams at /watch/docs/{path} and /watch/query. Reads go through an HTTP
// cache so that cache-preferring reads can be answered locally with a Cache-Control
// "only-if-cached" request; one-shot server reads force revalidation and concurrent
// reads of the same document are collapsed into a single request.
package fwhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"golang.org/x/sync/singleflight"

	"github.com/Ratio-et-Ars/firewatch/interfaces"
)

const (
	documentPath      = "/docs/"
	queryPath         = "/query"
	watchDocumentPath = "/watch/docs/"
	watchQueryPath    = "/watch/query"

	defaultReconnectDelay = time.Second
)

// BackendConfig is the configuration for an HTTP backend. BaseURI is required.
type BackendConfig struct {
	// BaseURI is the base URI of the document service, without a trailing slash.
	BaseURI string

	// HTTPClient optionally overrides the HTTP client used for all requests.
	HTTPClient *http.Client

	// Headers are added to every request, for authentication and the like.
	Headers http.Header

	// InitialReconnectDelay is the starting retry delay for broken streams. If not
	// positive, one second is used.
	InitialReconnectDelay time.Duration

	// Loggers receives log output.
	Loggers ldlog.Loggers
}

// Backend implements interfaces.Backend against an HTTP document service.
type Backend struct {
	baseURI        string
	client         *http.Client
	cachingClient  *http.Client
	streamClient   *http.Client
	headers        http.Header
	reconnectDelay time.Duration
	loggers        ldlog.Loggers
	fetches        singleflight.Group
}

// NewBackend creates a Backend.
func NewBackend(config BackendConfig) (*Backend, error) {
	if config.BaseURI == "" {
		return nil, errors.New("BackendConfig.BaseURI is required")
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	cachingClient := *client
	cachingClient.Transport = &httpcache.Transport{
		Cache:               httpcache.NewMemoryCache(),
		MarkCachedResponses: true,
		Transport:           client.Transport,
	}

	// A stream request never completes, so the stream client must not have an overall
	// request timeout; connection timeouts belong to the transport's dialer.
	streamClient := *client
	streamClient.Timeout = 0

	reconnectDelay := config.InitialReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}

	return &Backend{
		baseURI:        config.BaseURI,
		client:         client,
		cachingClient:  &cachingClient,
		streamClient:   &streamClient,
		headers:        config.Headers,
		reconnectDelay: reconnectDelay,
		loggers:        config.Loggers,
	}, nil
}

type statusError struct {
	code    int
	context string
}

func (e statusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d %s", e.code, e.context)
}

type documentBody struct {
	Fields ldvalue.Value `json:"fields"`
}

type addResponseBody struct {
	ID string `json:"id"`
}

type queryDocument struct {
	ID     string        `json:"id"`
	Fields ldvalue.Value `json:"fields"`
}

type queryResultBody struct {
	Docs []queryDocument `json:"docs"`
}

// GetDocumentCached is a standard method of interfaces.Backend. It asks the HTTP cache
// for a stored response without going to the network; the cache answers a miss with
// 504 Gateway Timeout per the only-if-cached semantics of RFC 7234.
func (b *Backend) GetDocumentCached(ctx context.Context, path string) (interfaces.DocumentSnapshot, error) {
	req, err := b.newRequest(ctx, "GET", documentPath+path, nil, nil)
	if err != nil {
		return interfaces.DocumentSnapshot{}, err
	}
	req.Header.Set("Cache-Control", "only-if-cached")
	resp, body, err := b.doRead(b.cachingClient, req)
	if err != nil {
		return interfaces.DocumentSnapshot{}, err
	}
	if resp.StatusCode == http.StatusGatewayTimeout {
		return interfaces.DocumentSnapshot{}, interfaces.ErrCacheMiss
	}
	return parseDocumentResponse(path, resp, body)
}

// GetDocument is a standard method of interfaces.Backend. The request forces
// revalidation so the result reflects server state, and concurrent calls for the same
// document are collapsed into one request.
func (b *Backend) GetDocument(ctx context.Context, path string) (interfaces.DocumentSnapshot, error) {
	result, err, _ := b.fetches.Do(path, func() (interface{}, error) {
		req, err := b.newRequest(ctx, "GET", documentPath+path, nil, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Cache-Control", "no-cache")
		resp, body, err := b.doRead(b.cachingClient, req)
		if err != nil {
			return nil, err
		}
		return parseDocumentResponse(path, resp, body)
	})
	if err != nil {
		return interfaces.DocumentSnapshot{}, err
	}
	return result.(interfaces.DocumentSnapshot), nil
}

// RunQuery is a standard method of interfaces.Backend.
func (b *Backend) RunQuery(ctx context.Context, query interfaces.Query) (interfaces.QuerySnapshot, error) {
	req, err := b.newRequest(ctx, "GET", queryPath, queryParams(query), nil)
	if err != nil {
		return interfaces.QuerySnapshot{}, err
	}
	resp, body, err := b.doRead(b.client, req)
	if err != nil {
		return interfaces.QuerySnapshot{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return interfaces.QuerySnapshot{}, statusError{resp.StatusCode, "from query"}
	}
	var parsed queryResultBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return interfaces.QuerySnapshot{}, err
	}
	return querySnapshotFromBody(parsed), nil
}

// AddDocument is a standard method of interfaces.Backend.
func (b *Backend) AddDocument(ctx context.Context, collectionPath string, fields ldvalue.Value) (string, error) {
	body, err := b.mutate(ctx, "POST", documentPath+collectionPath, nil, fields)
	if err != nil {
		return "", err
	}
	var parsed addResponseBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	return parsed.ID, nil
}

// SetDocument is a standard method of interfaces.Backend.
func (b *Backend) SetDocument(ctx context.Context, path string, fields ldvalue.Value, merge bool) error {
	var params url.Values
	if merge {
		params = url.Values{"merge": {"true"}}
	}
	_, err := b.mutate(ctx, "PUT", documentPath+path, params, fields)
	return err
}

// UpdateDocument is a standard method of interfaces.Backend.
func (b *Backend) UpdateDocument(ctx context.Context, path string, fields ldvalue.Value) error {
	_, err := b.mutate(ctx, "PATCH", documentPath+path, nil, fields)
	return err
}

// DeleteDocument is a standard method of interfaces.Backend.
func (b *Backend) DeleteDocument(ctx context.Context, path string) error {
	req, err := b.newRequest(ctx, "DELETE", documentPath+path, nil, nil)
	if err != nil {
		return err
	}
	resp, _, err := b.doRead(b.client, req)
	if err != nil {
		return err
	}
	// Deleting a document that does not exist is not an error.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return statusError{resp.StatusCode, "from DELETE " + path}
	}
	return nil
}

func (b *Backend) mutate(ctx context.Context, method, path string, params url.Values, fields ldvalue.Value) ([]byte, error) {
	req, err := b.newRequest(ctx, method, path, params, &documentBody{Fields: fields})
	if err != nil {
		return nil, err
	}
	resp, body, err := b.doRead(b.client, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, statusError{resp.StatusCode, "from " + method + " " + path}
	}
	return body, nil
}

func (b *Backend) newRequest(ctx context.Context, method, path string, params url.Values, body interface{}) (*http.Request, error) {
	uri := b.baseURI + path
	if len(params) > 0 {
		uri += "?" + params.Encode()
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, uri, reader)
	if err != nil {
		return nil, err
	}
	for name, values := range b.headers {
		req.Header[name] = values
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// doRead executes a request and consumes the whole body, so that the underlying
// connection can be reused.
func (b *Backend) doRead(client *http.Client, req *http.Request) (*http.Response, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, nil, readErr
	}
	return resp, body, nil
}

func parseDocumentResponse(path string, resp *http.Response, body []byte) (interfaces.DocumentSnapshot, error) {
	switch resp.StatusCode {
	case http.StatusOK:
		var parsed documentBody
		if err := json.Unmarshal(body, &parsed); err != nil {
			return interfaces.DocumentSnapshot{}, err
		}
		return interfaces.DocumentSnapshot{ID: documentID(path), Exists: true, Fields: parsed.Fields}, nil
	case http.StatusNotFound:
		return interfaces.DocumentSnapshot{ID: documentID(path)}, nil
	default:
		return interfaces.DocumentSnapshot{}, statusError{resp.StatusCode, "from GET " + path}
	}
}

func querySnapshotFromBody(parsed queryResultBody) interfaces.QuerySnapshot {
	docs := make([]interfaces.DocumentSnapshot, 0, len(parsed.Docs))
	for _, doc := range parsed.Docs {
		docs = append(docs, interfaces.DocumentSnapshot{ID: doc.ID, Exists: true, Fields: doc.Fields})
	}
	return interfaces.QuerySnapshot{Docs: docs}
}

// queryParams encodes a query as the q= request parameter understood by the service.
func queryParams(query interfaces.Query) url.Values {
	type filterJSON struct {
		Field string        `json:"field"`
		Op    string        `json:"op"`
		Value ldvalue.Value `json:"value"`
	}
	type orderingJSON struct {
		Field      string `json:"field"`
		Descending bool   `json:"descending,omitempty"`
	}
	type queryJSON struct {
		Collection string         `json:"collection"`
		Filters    []filterJSON   `json:"filters,omitempty"`
		Ordering   []orderingJSON `json:"ordering,omitempty"`
		Limit      int            `json:"limit,omitempty"`
	}
	encoded := queryJSON{Collection: query.Collection, Limit: query.Limit}
	for _, f := range query.Filters {
		encoded.Filters = append(encoded.Filters, filterJSON{Field: f.Field, Op: string(f.Op), Value: f.Value})
	}
	for _, o := range query.Ordering {
		encoded.Ordering = append(encoded.Ordering, orderingJSON{Field: o.Field, Descending: o.Descending})
	}
	data, _ := json.Marshal(encoded)
	return url.Values{"q": {string(data)}}
}

func documentID(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
