package userstore

import (
	"context"
	"net/http"
	"net/url"

	"github.com/weiawesome/wes-io-live-chatkit/chatkit/codec"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/credential"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/domain"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/transport"
)

type instanceFetcher struct {
	inst   transport.Instance
	tokens credential.Provider
	codec  *codec.Codec
}

// NewInstanceFetcher fetches users with GET users/<id> on the core service.
func NewInstanceFetcher(inst transport.Instance, tokens credential.Provider, c *codec.Codec) Fetcher {
	if c == nil {
		c = codec.Default()
	}
	return &instanceFetcher{inst: inst, tokens: tokens, codec: c}
}

func (f *instanceFetcher) FetchUser(ctx context.Context, id string) (*domain.User, error) {
	body, err := f.inst.Request(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "users/" + url.PathEscape(id),
	}, f.tokens)
	if err != nil {
		return nil, err
	}

	var u domain.User
	if err := f.codec.Decode(body, &u); err != nil {
		return nil, &codec.DecodeError{EventName: "user", Err: err}
	}
	u.ID = id
	return &u, nil
}
