// Package state provides chat-keyed session stores for conversation state.
// Stores are generic over the session value so the package stays
// domain-agnostic; byte-oriented backends take a Codec for the value type.
package state

import (
	"context"
	"errors"
)

// Store maps a chat identity to the chat's current session value.
// Get reports found=false for chats without a session.
type Store[S any] interface {
	Get(ctx context.Context, chatID int64) (S, bool, error)
	Set(ctx context.Context, chatID int64, s S) error
	Clear(ctx context.Context, chatID int64) error
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Codec converts session values to and from their stored bytes.
type Codec[S any] struct {
	Marshal   func(S) ([]byte, error)
	Unmarshal func([]byte) (S, error)
}

func (c Codec[S]) valid() bool {
	return c.Marshal != nil && c.Unmarshal != nil
}

var errNilCodec = errors.New("state: codec requires Marshal and Unmarshal")
