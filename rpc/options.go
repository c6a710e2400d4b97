package rpc

import (
	"github.com/sirupsen/logrus"

	"mux-rpc/codec"
	"mux-rpc/middleware"
)

// Option configures a session.
type Option func(*options)

type options struct {
	id          []byte
	handshake   []byte
	codec       codec.Codec
	log         logrus.FieldLogger
	middlewares []middleware.Middleware
	responders  []responderSpec
}

type responderSpec struct {
	method  string
	handler HandlerFunc
	opts    []EncodingOption
}

// WithID distinguishes several rpc sessions on the same mux.
func WithID(id []byte) Option {
	return func(o *options) { o.id = id }
}

// WithHandshake sets the payload the peer receives in its open notification.
func WithHandshake(handshake []byte) Option {
	return func(o *options) { o.handshake = handshake }
}

// WithDefaultEncoding sets the session-wide value codec.
func WithDefaultEncoding(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithLogger sets the session logger, logrus.StandardLogger() by default.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) { o.log = log }
}

// WithMiddleware wraps every responder registered afterwards, outermost first.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

// WithResponder registers a responder before the channel opens, so it is in
// place before the peer can send the first request.
func WithResponder(method string, handler HandlerFunc, opts ...EncodingOption) Option {
	return func(o *options) {
		o.responders = append(o.responders, responderSpec{method: method, handler: handler, opts: opts})
	}
}

// EncodingOption configures the codecs of one call, event or responder.
type EncodingOption func(*codec.Config)

// WithValueEncoding sets the codec for both request and response values.
func WithValueEncoding(c codec.Codec) EncodingOption {
	return func(cfg *codec.Config) { cfg.Value = c }
}

// WithRequestEncoding overrides the codec of the request value.
func WithRequestEncoding(c codec.Codec) EncodingOption {
	return func(cfg *codec.Config) { cfg.Request = c }
}

// WithResponseEncoding overrides the codec of the response value.
func WithResponseEncoding(c codec.Codec) EncodingOption {
	return func(cfg *codec.Config) { cfg.Response = c }
}

func newConfig(opts []EncodingOption) codec.Config {
	var cfg codec.Config
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
