package claim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Proton-105/claim-bot/internal/errors"
	"github.com/Proton-105/claim-bot/pkg/config"
)

func TestSettingsSnapshotAndSetters(t *testing.T) {
	s := NewSettings(config.EngineConfig{RequestCount: 5, SuccessThreshold: 3, Delay: 2 * time.Second, RequestsEnabled: true})

	assert.Equal(t, Snapshot{RequestCount: 5, SuccessThreshold: 3, Delay: 2 * time.Second, RequestsEnabled: true}, s.Snapshot())

	require.NoError(t, s.SetRequestCount(8))
	require.NoError(t, s.SetSuccessThreshold(2))
	require.NoError(t, s.SetDelay(0))
	s.SetRequestsEnabled(false)

	assert.Equal(t, Snapshot{RequestCount: 8, SuccessThreshold: 2, Delay: 0, RequestsEnabled: false}, s.Snapshot())
	assert.False(t, s.RequestsEnabled())
}

func TestSettingsRejectOutOfRange(t *testing.T) {
	s := NewSettings(config.EngineConfig{RequestCount: 5, SuccessThreshold: 3, RequestsEnabled: true})

	for _, err := range []error{
		s.SetRequestCount(0),
		s.SetRequestCount(101),
		s.SetSuccessThreshold(-1),
		s.SetDelay(-time.Second),
		s.SetDelay(time.Hour),
	} {
		var appErr *apperrors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, apperrors.CodeValidation, appErr.Code)
	}

	assert.Equal(t, 5, s.Snapshot().RequestCount)
	assert.Equal(t, 3, s.Snapshot().SuccessThreshold)
}

func TestSettingsApplyIgnoresInvalidValues(t *testing.T) {
	s := NewSettings(config.EngineConfig{RequestCount: 5, SuccessThreshold: 3, Delay: time.Second, RequestsEnabled: true})
	s.Apply(config.EngineConfig{RequestCount: 0, SuccessThreshold: 4, Delay: -time.Second, RequestsEnabled: false})

	assert.Equal(t, Snapshot{RequestCount: 5, SuccessThreshold: 4, Delay: time.Second, RequestsEnabled: false}, s.Snapshot())
}

func TestSettingsApplyChangesKeepsRuntimeValues(t *testing.T) {
	file := config.EngineConfig{RequestCount: 5, SuccessThreshold: 3, Delay: time.Second, RequestsEnabled: true}
	s := NewSettings(file)

	s.SetRequestsEnabled(false)
	require.NoError(t, s.SetSuccessThreshold(1))

	s.ApplyChanges(file, file)
	assert.False(t, s.RequestsEnabled())
	assert.Equal(t, 1, s.Snapshot().SuccessThreshold)

	edited := file
	edited.RequestCount = 9
	s.ApplyChanges(file, edited)

	assert.Equal(t, Snapshot{RequestCount: 9, SuccessThreshold: 1, Delay: time.Second, RequestsEnabled: false}, s.Snapshot())

	off := edited
	off.RequestsEnabled = false
	s.ApplyChanges(off, edited)
	assert.True(t, s.RequestsEnabled())
}
