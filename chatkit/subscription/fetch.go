package subscription

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/weiawesome/wes-io-live-chatkit/chatkit/codec"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/domain"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/transport"
	"github.com/weiawesome/wes-io-live-chatkit/pkg/log"
)

// FetchMessages returns up to limit recent messages of a room, with their
// User and Room resolved against the subscription's state.
func (s *Subscription) FetchMessages(ctx context.Context, roomID, limit int) ([]*domain.Message, error) {
	if s.State() == StateTerminated {
		return nil, ErrTerminated
	}

	req := transport.Request{
		Method: http.MethodGet,
		Path:   "rooms/" + strconv.Itoa(roomID) + "/messages",
	}
	if limit > 0 {
		req.Query = url.Values{"limit": {strconv.Itoa(limit)}}
	}

	body, err := s.endpoints.Core.Request(log.WithLogger(ctx, s.logger), req, s.tokens)
	if err != nil {
		return nil, err
	}

	var msgs []*domain.Message
	if err := s.codec.Decode(body, &msgs); err != nil {
		return nil, &codec.DecodeError{EventName: "messages", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		if m == nil {
			continue
		}
		m.User = s.users.Resolve(m.UserID)
		m.Room = s.rooms[m.RoomID]
	}
	return msgs, nil
}

// FetchAttachment resolves an attachment whose link is a fetch token into
// one with a directly usable link. Other attachments are returned as-is.
func (s *Subscription) FetchAttachment(ctx context.Context, att *domain.Attachment) (*domain.Attachment, error) {
	if att == nil || !att.FetchRequired {
		return att, nil
	}
	if s.State() == StateTerminated {
		return nil, ErrTerminated
	}
	files := s.endpoints.Files
	if files == nil {
		return nil, transport.ErrUnsupported
	}

	req := transport.Request{Method: http.MethodGet}
	if u, err := url.Parse(att.Link); err == nil && u.IsAbs() {
		req.URL = att.Link
	} else {
		req.Path = att.Link
	}

	body, err := files.Request(log.WithLogger(ctx, s.logger), req, s.tokens)
	if err != nil {
		return nil, err
	}

	var resolved domain.Attachment
	if err := s.codec.Decode(body, &resolved); err != nil {
		return nil, &codec.DecodeError{EventName: "attachment", Err: err}
	}
	if resolved.Type == "" {
		resolved.Type = att.Type
	}
	resolved.FetchRequired = false
	return &resolved, nil
}
