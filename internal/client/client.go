// Package client talks to a running taskmux daemon.
package client

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/kazz187/taskmux/internal/api"
	"github.com/kazz187/taskmux/pkg/cerr"
)

type Client struct {
	httpClient connect.HTTPClient
	baseURL    string
	apiKey     string
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

func WithHTTPClient(hc connect.HTTPClient) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{httpClient: http.DefaultClient, baseURL: strings.TrimSuffix(baseURL, "/")}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) authorize(h http.Header) {
	if c.apiKey != "" {
		h.Set("X-API-Key", c.apiKey)
	}
}

// call performs one unary procedure. Errors come back as *cerr.Error with
// the server's code and message.
func call[Req, Res any](ctx context.Context, c *Client, procedure string, msg *Req) (*Res, error) {
	cl := connect.NewClient[Req, Res](c.httpClient, c.baseURL+procedure, connect.WithCodec(api.Codec{}))
	req := connect.NewRequest(msg)
	c.authorize(req.Header())
	res, err := cl.CallUnary(ctx, req)
	if err != nil {
		return nil, cerr.FromConnectError(err)
	}
	return res.Msg, nil
}

// watch calls fn for every message of a server stream until the stream
// ends, ctx is cancelled, or fn returns an error.
func watch[Req, Res any](ctx context.Context, c *Client, procedure string, msg *Req, fn func(*Res) error) error {
	cl := connect.NewClient[Req, Res](c.httpClient, c.baseURL+procedure, connect.WithCodec(api.Codec{}))
	req := connect.NewRequest(msg)
	c.authorize(req.Header())
	stream, err := cl.CallServerStream(ctx, req)
	if err != nil {
		return cerr.FromConnectError(err)
	}
	defer stream.Close()
	for stream.Receive() {
		if err := fn(stream.Msg()); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return cerr.FromConnectError(err)
	}
	return nil
}
