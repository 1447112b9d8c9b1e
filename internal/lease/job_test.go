package lease_test

import (
	"context"
	"testing"

	"github.com/smallbiznis/pressledger/internal/config"
	"github.com/smallbiznis/pressledger/internal/lease"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobLeasesDisabledWithoutRedis(t *testing.T) {
	leases := lease.NewJobLeases(nil, config.Config{})
	require.Nil(t, leases)
	assert.False(t, leases.Enabled())

	release, ok, err := leases.Acquire(context.Background(), "statement_rollover")
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}

func TestLockerWithoutClient(t *testing.T) {
	locker := lease.NewLocker(nil)
	require.Nil(t, locker)

	_, ok, err := locker.TryLock(context.Background(), "k", 0)
	require.Error(t, err)
	assert.False(t, ok)
	assert.NoError(t, locker.Release(context.Background(), "k", "token"))
}
