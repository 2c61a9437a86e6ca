// Package ledger provides clients for the append-only ledger that certificate
// content hashes are anchored to.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/adamscao/certguard/internal/config"
)

var (
	ErrUnavailable = errors.New("ledger: unavailable")
	ErrInvalidHash = errors.New("ledger: invalid hash")
	ErrClosed      = errors.New("ledger: closed")
	ErrDisabled    = errors.New("ledger: disabled")
	ErrLocked      = errors.New("ledger: journal is open in another process")
)

// Client stores content hashes on a ledger and answers whether a hash was stored.
// Store may return an error after the write reached the ledger; callers treat
// such writes as not anchored.
type Client interface {
	Store(ctx context.Context, hashHex string) (txRef string, err error)
	Verify(ctx context.Context, hashHex string) (bool, error)
	// Address identifies the ledger or contract instance the client talks to.
	Address() string
	Close() error
}

// New builds the client selected by cfg.Backend. It returns a nil Client when
// the ledger is disabled.
func New(cfg config.LedgerConfig) (Client, error) {
	switch cfg.Backend {
	case config.LedgerBackendNone, "":
		return nil, nil
	case config.LedgerBackendLocal:
		l, err := OpenLocal(cfg.Local.Path, cfg.Address)
		if err != nil {
			return nil, err
		}
		return l, nil
	case config.LedgerBackendRPC:
		address := cfg.Address
		if address == "" {
			address = cfg.RPC.ContractAddress
		}
		return NewRPC(cfg.RPC.URL, address, &http.Client{Timeout: cfg.GetTimeout()}), nil
	default:
		return nil, fmt.Errorf("unsupported ledger backend: %s", cfg.Backend)
	}
}
