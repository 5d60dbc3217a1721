package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florianilch/graphauth/internal/auth"
)

func TestSessionView(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	view := NewSessionView()
	view.now = func() time.Time { return now }

	assert.Equal(t, Session{}, view.Snapshot())

	view.OnAuthenticationChanged(auth.StateStartedInteractive)
	view.OnAuthenticationChanged(auth.StateFallbackToDeviceCode)
	view.OnPresentDeviceCode(auth.DeviceCodePrompt{UserCode: "ABCD", ExpiresOn: now.Add(15 * time.Minute)})

	snapshot := view.Snapshot()
	assert.Equal(t, "FallbackToDeviceCode", snapshot.State)
	require.NotNil(t, snapshot.DeviceCode)
	assert.Equal(t, "ABCD", snapshot.DeviceCode.UserCode)

	// snapshots are copies
	snapshot.DeviceCode.UserCode = "XXXX"
	assert.Equal(t, "ABCD", view.Snapshot().DeviceCode.UserCode)

	view.OnAuthenticationChanged(auth.StateCompleted)
	snapshot = view.Snapshot()
	assert.Equal(t, "Completed", snapshot.State)
	assert.Nil(t, snapshot.DeviceCode)
	assert.Equal(t, now, snapshot.ChangedAt)
}

func TestSessionView_ExpiredDeviceCodeHidden(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	view := NewSessionView()
	view.now = func() time.Time { return now }

	view.OnPresentDeviceCode(auth.DeviceCodePrompt{UserCode: "ABCD", ExpiresOn: now.Add(time.Minute)})
	require.NotNil(t, view.Snapshot().DeviceCode)

	now = now.Add(2 * time.Minute)
	assert.Nil(t, view.Snapshot().DeviceCode)
}

func TestSessionView_RepeatedCompletedKeepsChangedAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	view := NewSessionView()
	view.now = func() time.Time { return now }

	view.OnAuthenticationChanged(auth.StateCompleted)
	signedInAt := view.Snapshot().ChangedAt

	now = now.Add(10 * time.Minute)
	view.OnAuthenticationChanged(auth.StateCompleted)
	assert.Equal(t, signedInAt, view.Snapshot().ChangedAt)

	view.OnAuthenticationChanged(auth.StateSignOut)
	assert.Equal(t, now, view.Snapshot().ChangedAt)
}
