package resolver

import (
	"context"
	"net/url"
)

// Strategy resolves pages of one site family into direct media URLs.
type Strategy interface {
	// Name identifies the strategy in logs
	Name() string

	// Match reports whether the strategy handles pages at u
	Match(u *url.URL) bool

	// Resolve returns a stream URL for pageURL. Errors wrap ErrNoStream or
	// ErrNetwork.
	Resolve(ctx context.Context, pageURL string) (string, error)
}
