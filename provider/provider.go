// Copyright 2021-2024, Intech ID, Inc.
// For license information, see https://github.com/intech-id/collexi-rollup/blob/master/LICENSE

// Package provider is the transport to the rollup operator: request/response
// plus optional one-shot subscriptions, with fixed-interval polling where
// subscriptions are unsupported.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

// RPCError carries a remote failure unmodified: the operator's code and
// message when it responded, or the underlying transport error.
type RPCError struct {
	Method  string
	Code    int
	Message string
	Err     error
}

func (e *RPCError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rpc %s failed: %s (code %d)", e.Method, e.Message, e.Code)
	}
	return fmt.Sprintf("rpc %s failed: %v", e.Method, e.Err)
}

func (e *RPCError) Unwrap() error {
	return e.Err
}

func wrapRPCError(method string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	wrapped := &RPCError{Method: method, Err: err}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		wrapped.Code = rpcErr.ErrorCode()
		wrapped.Message = rpcErr.Error()
	}
	return wrapped
}

// Interface is the operator transport capability set.
type Interface interface {
	// CallContext performs one request. Failures surface as *RPCError.
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
	// Subscribe opens a one-shot subscription under the given namespace
	// (method <namespace>_subscribe). The handle yields exactly one
	// notification and always issues the unsubscribe.
	Subscribe(ctx context.Context, namespace string, args ...interface{}) (*Subscription, error)
	SupportsSubscriptions() bool
	Close()
}

// Subscription is a one-shot notification handle.
type Subscription struct {
	ch  chan json.RawMessage
	sub *rpc.ClientSubscription
}

// Await returns the first matching notification and closes the subscription.
// The unsubscribe is issued even when the caller's context ends first.
func (s *Subscription) Await(ctx context.Context) (json.RawMessage, error) {
	defer s.sub.Unsubscribe()
	select {
	case msg := <-s.ch:
		return msg, nil
	case err := <-s.sub.Err():
		return nil, wrapRPCError("subscription", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel drops the subscription without waiting.
func (s *Subscription) Cancel() {
	s.sub.Unsubscribe()
}

type Config struct {
	URL            string        `koanf:"url"`
	Timeout        time.Duration `koanf:"timeout"`
	ConnectionWait time.Duration `koanf:"connection-wait"`
	PollInterval   time.Duration `koanf:"poll-interval"`
	ArgLogLimit    uint          `koanf:"arg-log-limit"`
}

var DefaultConfig = Config{
	URL:            "",
	Timeout:        0,
	ConnectionWait: 0,
	PollInterval:   3 * time.Second,
	ArgLogLimit:    2048,
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".url", DefaultConfig.URL, "operator rpc url; ws or wss enables subscriptions")
	f.Duration(prefix+".timeout", DefaultConfig.Timeout, "per-request timeout (0-disabled)")
	f.Duration(prefix+".connection-wait", DefaultConfig.ConnectionWait, "how long to wait for initial connection")
	f.Duration(prefix+".poll-interval", DefaultConfig.PollInterval, "status poll interval when subscriptions are unsupported")
	f.Uint(prefix+".arg-log-limit", DefaultConfig.ArgLogLimit, "limit size of arguments in log entries")
}

// RPCProvider implements Interface over a JSON-RPC connection.
type RPCProvider struct {
	config     Config
	client     *rpc.Client
	subscribes bool
	logId      uint64
}

// Dial connects to the operator. WebSocket endpoints get subscription
// support; HTTP endpoints fall back to polling.
func Dial(ctx context.Context, config Config) (*RPCProvider, error) {
	if config.URL == "" {
		return nil, errors.New("no operator url provided")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig.PollInterval
	}
	connTimeout := time.After(config.ConnectionWait)
	for {
		dialCtx := ctx
		var cancel context.CancelFunc
		if config.Timeout > 0 {
			dialCtx, cancel = context.WithTimeout(ctx, config.Timeout)
		}
		client, err := rpc.DialContext(dialCtx, config.URL)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return &RPCProvider{
				config:     config,
				client:     client,
				subscribes: strings.HasPrefix(config.URL, "ws://") || strings.HasPrefix(config.URL, "wss://"),
			}, nil
		}
		if strings.Contains(err.Error(), "parse") || strings.Contains(err.Error(), "malformed") {
			return nil, fmt.Errorf("%w: url %s", err, config.URL)
		}
		select {
		case <-connTimeout:
			return nil, fmt.Errorf("timeout trying to connect, last error: %w", err)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (p *RPCProvider) Close() {
	p.client.Close()
}

func (p *RPCProvider) SupportsSubscriptions() bool {
	return p.subscribes
}

// PollInterval is the fixed delay used by callers that must poll instead of
// subscribe.
func (p *RPCProvider) PollInterval() time.Duration {
	return p.config.PollInterval
}

func limitString(limit int, str string) string {
	if limit == 0 || len(str) <= limit {
		return str
	}
	prefix := str[:limit/2-1]
	postfix := str[len(str)-limit/2+1:]
	return fmt.Sprintf("%v..%v", prefix, postfix)
}

func logArgs(limit int, args ...interface{}) string {
	res := "["
	for i, arg := range args {
		marshalled, err := json.Marshal(arg)
		if err != nil {
			res += "\"CANNOT MARSHALL:" + limitString(limit, err.Error()) + "\""
		} else {
			res += limitString(limit, string(marshalled))
		}
		if i < len(args)-1 {
			res += ", "
		}
	}
	res += "]"
	return res
}

func (p *RPCProvider) CallContext(ctx_in context.Context, result interface{}, method string, args ...interface{}) error {
	logId := atomic.AddUint64(&p.logId, 1)
	limit := int(p.config.ArgLogLimit)
	log.Trace("sending operator request", "method", method, "logId", logId, "args", logArgs(limit, args...))
	ctx := ctx_in
	var cancel context.CancelFunc
	if p.config.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx_in, p.config.Timeout)
	}
	err := p.client.CallContext(ctx, result, method, args...)
	if cancel != nil {
		cancel()
	}
	if err != nil {
		log.Info("operator request failed", "method", method, "logId", logId, "err", err)
		return wrapRPCError(method, err)
	}
	log.Trace("operator response", "method", method, "logId", logId,
		"result", limitString(limit, fmt.Sprintf("%+v", result)))
	return nil
}

func (p *RPCProvider) Subscribe(ctx context.Context, namespace string, args ...interface{}) (*Subscription, error) {
	if !p.subscribes {
		return nil, errors.New("transport does not support subscriptions")
	}
	ch := make(chan json.RawMessage, 1)
	sub, err := p.client.Subscribe(ctx, namespace, ch, args...)
	if err != nil {
		return nil, wrapRPCError(namespace+"_subscribe", err)
	}
	return &Subscription{ch: ch, sub: sub}, nil
}
