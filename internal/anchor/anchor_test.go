package anchor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/adamscao/certguard/internal/ledger"
)

const helloHash = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

type fakeLedger struct {
	store func(ctx context.Context, hash string) (string, error)
}

func (f *fakeLedger) Store(ctx context.Context, hash string) (string, error) {
	return f.store(ctx, hash)
}

func (f *fakeLedger) Verify(context.Context, string) (bool, error) { return false, nil }
func (f *fakeLedger) Address() string                              { return "0xcontract" }
func (f *fakeLedger) Close() error                                 { return nil }

func TestAnchor_Success(t *testing.T) {
	var stored string
	svc := New(&fakeLedger{store: func(_ context.Context, hash string) (string, error) {
		stored = hash
		return "0xtx1", nil
	}}, time.Second, zap.NewNop())

	res, err := svc.Anchor(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, helloHash, res.Hash)
	assert.Equal(t, helloHash, stored)
	assert.True(t, res.Anchored)
	assert.Equal(t, "0xtx1", res.LedgerTxRef)
	assert.Equal(t, "0xcontract", res.LedgerAddress)
}

func TestAnchor_StoreFailureDoesNotFail(t *testing.T) {
	failures := []error{
		ledger.ErrUnavailable,
		&ledger.RPCError{Code: -32000, Message: "execution reverted"},
		errors.New("connection reset by peer"),
	}

	for _, failure := range failures {
		t.Run(failure.Error(), func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			svc := New(&fakeLedger{store: func(context.Context, string) (string, error) {
				return "", failure
			}}, time.Second, zap.New(core))

			res, err := svc.Anchor(context.Background(), []byte("hello"))
			require.NoError(t, err)
			assert.Equal(t, helloHash, res.Hash)
			assert.False(t, res.Anchored)
			assert.Empty(t, res.LedgerTxRef)
			assert.Empty(t, res.LedgerAddress)
			assert.Equal(t, 1, logs.FilterMessage("anchoring failed, continuing without ledger reference").Len())
		})
	}
}

func TestAnchor_NoLedger(t *testing.T) {
	svc := New(nil, 0, nil)

	res, err := svc.Anchor(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, helloHash, res.Hash)
	assert.False(t, res.Anchored)
}

func TestAnchor_EmptyArtifact(t *testing.T) {
	svc := New(nil, 0, nil)

	_, err := svc.Anchor(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyArtifact)
}

func TestAnchor_TimeoutLeavesOrphanedWrite(t *testing.T) {
	release := make(chan struct{})
	var storeCtxErr error

	core, logs := observer.New(zapcore.WarnLevel)
	svc := New(&fakeLedger{store: func(ctx context.Context, hash string) (string, error) {
		<-release
		storeCtxErr = ctx.Err()
		return "0xlate", nil
	}}, 20*time.Millisecond, zap.New(core))

	res, err := svc.Anchor(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.False(t, res.Anchored)
	assert.Empty(t, res.LedgerTxRef)

	close(release)
	assert.Eventually(t, func() bool {
		return logs.FilterMessage("orphaned ledger write confirmed after timeout").Len() == 1
	}, time.Second, 5*time.Millisecond)
	assert.NoError(t, storeCtxErr)
}

func TestAnchor_CallerCancelDoesNotAbortWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	finished := make(chan error, 1)

	svc := New(&fakeLedger{store: func(storeCtx context.Context, hash string) (string, error) {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished <- storeCtx.Err()
		return "0xtx", nil
	}}, time.Second, zap.NewNop())

	go func() {
		<-started
		cancel()
	}()

	res, err := svc.Anchor(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.False(t, res.Anchored)

	select {
	case err := <-finished:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ledger write did not finish")
	}
}
