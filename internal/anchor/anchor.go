// Package anchor hashes freshly issued artifacts and records the hash on the
// ledger. Anchoring is best-effort: a ledger failure never fails issuance.
package anchor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/adamscao/certguard/internal/ledger"
	"github.com/adamscao/certguard/pkg/digest"
)

// DefaultTimeout bounds how long issuance waits for the ledger
const DefaultTimeout = 10 * time.Second

// orphanGrace is how long a write that outlived its caller may keep running
const orphanGrace = 2 * time.Minute

var ErrEmptyArtifact = errors.New("anchor: empty artifact")

// Result is the outcome of anchoring one artifact. LedgerTxRef and
// LedgerAddress are set only when Anchored is true.
type Result struct {
	Hash          string `json:"hash"`
	LedgerTxRef   string `json:"ledger_tx_ref,omitempty"`
	LedgerAddress string `json:"ledger_address,omitempty"`
	Anchored      bool   `json:"anchored"`
}

// Service anchors artifact hashes. A nil ledger client disables anchoring.
type Service struct {
	ledger  ledger.Client
	timeout time.Duration
	logger  *zap.Logger
}

// New creates an anchoring service
func New(client ledger.Client, timeout time.Duration, logger *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		ledger:  client,
		timeout: timeout,
		logger:  logger.Named("anchor"),
	}
}

// Enabled reports whether a ledger is configured
func (s *Service) Enabled() bool {
	return s.ledger != nil
}

// Anchor hashes artifact and tries to store the hash on the ledger.
// The only error it returns is ErrEmptyArtifact.
func (s *Service) Anchor(ctx context.Context, artifact []byte) (*Result, error) {
	if len(artifact) == 0 {
		return nil, ErrEmptyArtifact
	}

	result := &Result{Hash: digest.Sum(artifact)}

	if s.ledger == nil {
		s.logger.Debug("ledger disabled, artifact not anchored", zap.String("hash", result.Hash))
		return result, nil
	}

	txRef, err := s.store(ctx, result.Hash)
	if err != nil {
		s.logger.Warn("anchoring failed, continuing without ledger reference",
			zap.String("hash", result.Hash),
			zap.String("ledger_address", s.ledger.Address()),
			zap.Error(err),
		)
		return result, nil
	}

	result.LedgerTxRef = txRef
	result.LedgerAddress = s.ledger.Address()
	result.Anchored = true

	s.logger.Info("artifact anchored",
		zap.String("hash", result.Hash),
		zap.String("tx_ref", txRef),
	)

	return result, nil
}

type storeOutcome struct {
	txRef string
	err   error
}

// store runs the ledger write detached from ctx so that a caller timeout
// cannot abort a transaction that is already in flight.
func (s *Service) store(ctx context.Context, hash string) (string, error) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout+orphanGrace)
	done := make(chan storeOutcome, 1)

	go func() {
		defer cancel()
		txRef, err := s.ledger.Store(storeCtx, hash)
		done <- storeOutcome{txRef: txRef, err: err}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	var err error
	select {
	case out := <-done:
		return out.txRef, out.err
	case <-timer.C:
		err = fmt.Errorf("ledger store timed out after %s: %w", s.timeout, ledger.ErrUnavailable)
	case <-ctx.Done():
		err = fmt.Errorf("ledger store abandoned: %w", ctx.Err())
	}

	go s.watchOrphan(done, hash)
	return "", err
}

// watchOrphan logs the fate of a write whose caller has already moved on.
// A late success leaves a hash on the ledger that no record references.
func (s *Service) watchOrphan(done <-chan storeOutcome, hash string) {
	out := <-done
	if out.err != nil {
		s.logger.Debug("late ledger write failed", zap.String("hash", hash), zap.Error(out.err))
		return
	}
	s.logger.Warn("orphaned ledger write confirmed after timeout",
		zap.String("hash", hash),
		zap.String("tx_ref", out.txRef),
	)
}
