package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

func TestDirLock_AcquireAndRelease(t *testing.T) {
	dir := t.TempDir()
	l := NewDirLock(dir)

	require.NoError(t, l.Acquire(context.Background(), 0))
	assert.FileExists(t, l.Path())

	require.NoError(t, l.Release())
	require.NoError(t, l.Release())
}

func TestDirLock_ContendedLockTimesOut(t *testing.T) {
	// Given: the directory is already locked
	dir := t.TempDir()
	holder := NewDirLock(dir)
	require.NoError(t, holder.Acquire(context.Background(), 0))
	defer func() { _ = holder.Release() }()

	// When: a second lock waits with a short deadline
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := NewDirLock(dir).Acquire(ctx, 10*time.Millisecond)

	// Then: it reports the store as locked
	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeStoreLocked, amerrors.GetCode(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestDirLock_AcquiredAfterRelease(t *testing.T) {
	dir := t.TempDir()
	holder := NewDirLock(dir)
	require.NoError(t, holder.Acquire(context.Background(), 0))
	time.AfterFunc(20*time.Millisecond, func() { _ = holder.Release() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	waiter := NewDirLock(dir)

	require.NoError(t, waiter.Acquire(ctx, 5*time.Millisecond))
	require.NoError(t, waiter.Release())
}
