package fwhttp

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	es "github.com/launchdarkly/eventsource"
	"golang.org/x/exp/maps"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/Ratio-et-Ars/firewatch/interfaces"
)

const (
	snapshotEventName = "snapshot"

	streamReadTimeout        = 5 * time.Minute
	streamMaxRetryDelay      = 30 * time.Second
	streamRetryResetInterval = 60 * time.Second
	streamJitterRatio        = 0.5

	subscriptionBufferLength = 16
)

type documentEventData struct {
	Exists        bool          `json:"exists"`
	Fields        ldvalue.Value `json:"fields"`
	PendingWrites bool          `json:"pendingWrites"`
}

type queryEventData struct {
	Docs []queryDocument `json:"docs"`
}

// WatchDocument is a standard method of interfaces.Backend. It opens an SSE stream at
// /watch/docs/{path}; the eventsource client owns reconnection, so a broken connection
// surfaces on the error channel and then repairs itself without a new subscription.
func (b *Backend) WatchDocument(path string, options interfaces.WatchOptions) (interfaces.DocumentSubscription, error) {
	var params url.Values
	if options.IncludeMetadata {
		params = url.Values{"metadata": {"true"}}
	}
	sub := &documentSubscription{
		path:      path,
		snapshots: make(chan interfaces.DocumentSnapshot, subscriptionBufferLength),
		errs:      make(chan error, subscriptionBufferLength),
		halt:      make(chan struct{}),
		loggers:   b.loggers,
	}
	stream, err := b.openStream(watchDocumentPath+path, params, sub.errs, sub.halt)
	if err != nil {
		return nil, err
	}
	sub.stream = stream
	go sub.consume()
	return sub, nil
}

// WatchQuery is a standard method of interfaces.Backend. It opens an SSE stream at
// /watch/query with the query encoded in the q= parameter.
func (b *Backend) WatchQuery(query interfaces.Query) (interfaces.QuerySubscription, error) {
	sub := &querySubscription{
		snapshots: make(chan interfaces.QuerySnapshot, subscriptionBufferLength),
		errs:      make(chan error, subscriptionBufferLength),
		halt:      make(chan struct{}),
		loggers:   b.loggers,
	}
	stream, err := b.openStream(watchQueryPath, queryParams(query), sub.errs, sub.halt)
	if err != nil {
		return nil, err
	}
	sub.stream = stream
	go sub.consume()
	return sub, nil
}

func (b *Backend) openStream(path string, params url.Values, errs chan<- error, halt <-chan struct{}) (*es.Stream, error) {
	uri := b.baseURI + path
	if len(params) > 0 {
		uri += "?" + params.Encode()
	}
	req, err := http.NewRequest("GET", uri, nil)
	if err != nil {
		return nil, err
	}
	if b.headers != nil {
		req.Header = maps.Clone(b.headers)
	}

	// Every stream failure is treated as retryable: the subscription stays open and the
	// consumer decides, from the error channel, whether to tear it down.
	errorHandler := func(err error) es.StreamErrorHandlerResult {
		forwardStreamError(errs, halt, err, b.loggers)
		return es.StreamErrorHandlerResult{CloseNow: false}
	}

	return es.SubscribeWithRequestAndOptions(req,
		es.StreamOptionHTTPClient(b.streamClient),
		es.StreamOptionReadTimeout(streamReadTimeout),
		es.StreamOptionInitialRetry(b.reconnectDelay),
		es.StreamOptionUseBackoff(streamMaxRetryDelay),
		es.StreamOptionUseJitter(streamJitterRatio),
		es.StreamOptionRetryResetInterval(streamRetryResetInterval),
		es.StreamOptionErrorHandler(errorHandler),
		es.StreamOptionCanRetryFirstConnection(-1),
		es.StreamOptionLogger(b.loggers.ForLevel(ldlog.Info)),
	)
}

// forwardStreamError delivers an error without blocking the eventsource goroutine. The
// error channel is never closed, so a late retry failure after Close cannot panic.
func forwardStreamError(errs chan<- error, halt <-chan struct{}, err error, loggers ldlog.Loggers) {
	select {
	case <-halt:
		return
	default:
	}
	select {
	case errs <- err:
	default:
		loggers.Warnf("Dropping stream error (consumer not keeping up): %s", err)
	}
}

type documentSubscription struct {
	path      string
	stream    *es.Stream
	snapshots chan interfaces.DocumentSnapshot
	errs      chan error
	halt      chan struct{}
	closeOnce sync.Once
	loggers   ldlog.Loggers
}

func (s *documentSubscription) Snapshots() <-chan interfaces.DocumentSnapshot { return s.snapshots }

func (s *documentSubscription) Errors() <-chan error { return s.errs }

func (s *documentSubscription) Close() {
	s.closeOnce.Do(func() {
		close(s.halt)
		s.stream.Close()
	})
}

func (s *documentSubscription) consume() {
	// Drain remaining events after shutdown so the eventsource goroutine can exit.
	defer func() {
		for range s.stream.Events {
		}
		close(s.snapshots)
	}()

	for {
		select {
		case event, ok := <-s.stream.Events:
			if !ok {
				return
			}
			if event.Event() != snapshotEventName {
				s.loggers.Infof("Unexpected event found in stream: %s", event.Event())
				continue
			}
			var data documentEventData
			if err := parseEventData(event, &data, s.errs, s.halt, s.loggers); err != nil {
				continue
			}
			snap := interfaces.DocumentSnapshot{
				ID:               documentID(s.path),
				Exists:           data.Exists,
				Fields:           data.Fields,
				HasPendingWrites: data.PendingWrites,
			}
			select {
			case s.snapshots <- snap:
			case <-s.halt:
				return
			}
		case <-s.halt:
			return
		}
	}
}

type querySubscription struct {
	stream    *es.Stream
	snapshots chan interfaces.QuerySnapshot
	errs      chan error
	halt      chan struct{}
	closeOnce sync.Once
	loggers   ldlog.Loggers
}

func (s *querySubscription) Snapshots() <-chan interfaces.QuerySnapshot { return s.snapshots }

func (s *querySubscription) Errors() <-chan error { return s.errs }

func (s *querySubscription) Close() {
	s.closeOnce.Do(func() {
		close(s.halt)
		s.stream.Close()
	})
}

func (s *querySubscription) consume() {
	defer func() {
		for range s.stream.Events {
		}
		close(s.snapshots)
	}()

	for {
		select {
		case event, ok := <-s.stream.Events:
			if !ok {
				return
			}
			if event.Event() != snapshotEventName {
				s.loggers.Infof("Unexpected event found in stream: %s", event.Event())
				continue
			}
			var data queryEventData
			if err := parseEventData(event, &data, s.errs, s.halt, s.loggers); err != nil {
				continue
			}
			select {
			case s.snapshots <- querySnapshotFromBody(queryResultBody{Docs: data.Docs}):
			case <-s.halt:
				return
			}
		case <-s.halt:
			return
		}
	}
}

func parseEventData(event es.Event, target interface{}, errs chan<- error, halt <-chan struct{}, loggers ldlog.Loggers) error {
	if err := json.Unmarshal([]byte(event.Data()), target); err != nil {
		loggers.Errorf("Received streaming %q event with malformed JSON data (%s); ignoring event",
			event.Event(), err)
		forwardStreamError(errs, halt, err, loggers)
		return err
	}
	return nil
}
