package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubSTT struct {
	name string
	err  error
	text string
}

func (s *stubSTT) Transcribe(ctx context.Context, audio []byte, lang Language) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}
func (s *stubSTT) Name() string { return s.name }

func TestRegistrySelectsHighestPriorityHealthy(t *testing.T) {
	reg := NewRegistry(2, 50*time.Millisecond, nil)
	reg.RegisterSTT("primary", &stubSTT{name: "primary", text: "hello"}, 0, false)
	reg.RegisterSTT("secondary", &stubSTT{name: "secondary", text: "world"}, 1, false)

	text, name, err := reg.Transcribe(context.Background(), nil, LanguageEn, "")
	require.NoError(t, err)
	require.Equal(t, "primary", name)
	require.Equal(t, "hello", text)
}

func TestRegistryFailsOverOnTransientError(t *testing.T) {
	reg := NewRegistry(1, 50*time.Millisecond, nil)
	reg.RegisterSTT("primary", &stubSTT{name: "primary", err: &TransientError{Provider: "primary", Err: errors.New("503")}}, 0, false)
	reg.RegisterSTT("secondary", &stubSTT{name: "secondary", text: "backup"}, 1, false)

	text, name, err := reg.Transcribe(context.Background(), nil, LanguageEn, "")
	require.NoError(t, err)
	require.Equal(t, "secondary", name)
	require.Equal(t, "backup", text)
}

func TestRegistryMarksUnhealthyAfterStreak(t *testing.T) {
	reg := NewRegistry(2, 20*time.Millisecond, nil)
	reg.RegisterSTT("flaky", &stubSTT{name: "flaky", err: &TransientError{Provider: "flaky", Err: errors.New("boom")}}, 0, false)
	reg.RegisterSTT("backup", &stubSTT{name: "backup", text: "ok"}, 1, false)

	// First failure: not yet unhealthy (streak=2).
	reg.Transcribe(context.Background(), nil, LanguageEn, "")
	ep, err := reg.Select(RoleSTT, "")
	require.NoError(t, err)
	require.Equal(t, "flaky", ep.Name, "expected flaky still selected after first failure")

	// Second failure crosses the streak threshold.
	reg.Transcribe(context.Background(), nil, LanguageEn, "")
	ep, err = reg.Select(RoleSTT, "")
	require.NoError(t, err)
	require.Equal(t, "backup", ep.Name, "expected backup selected once flaky is unhealthy")

	time.Sleep(30 * time.Millisecond)
	require.True(t, reg.endpoints[RoleSTT][0].Healthy(), "expected flaky to recover after unhealthyTTL elapses")
}

func TestRegistryNoProviderWhenAllUnhealthy(t *testing.T) {
	reg := NewRegistry(1, time.Hour, nil)
	reg.RegisterSTT("broken", &stubSTT{name: "broken", err: &TransientError{Provider: "broken", Err: errors.New("down")}}, 0, false)

	reg.Transcribe(context.Background(), nil, LanguageEn, "")
	_, err := reg.Select(RoleSTT, "")
	require.ErrorIs(t, err, ErrNoProvider)
}

func TestClientErrorDoesNotCountTowardStreak(t *testing.T) {
	reg := NewRegistry(1, time.Hour, nil)
	reg.RegisterSTT("picky", &stubSTT{name: "picky", err: &ClientError{Provider: "picky", StatusCode: 400, Err: errors.New("bad request")}}, 0, false)

	reg.Transcribe(context.Background(), nil, LanguageEn, "")
	ep, err := reg.Select(RoleSTT, "")
	require.NoError(t, err)
	require.Equal(t, "picky", ep.Name, "expected client error to leave endpoint healthy")
}

func TestRegistrySelectHonorsHintOverPriority(t *testing.T) {
	reg := NewRegistry(2, 50*time.Millisecond, nil)
	reg.RegisterSTT("primary", &stubSTT{name: "primary", text: "a"}, 0, false)
	reg.RegisterSTT("secondary", &stubSTT{name: "secondary", text: "b"}, 1, false)

	ep, err := reg.Select(RoleSTT, "secondary")
	require.NoError(t, err)
	require.Equal(t, "secondary", ep.Name, "expected a hinted endpoint to be picked regardless of priority order")
}

func TestRegistryPreferLocalSortsLocalsFirst(t *testing.T) {
	reg := NewRegistry(2, 50*time.Millisecond, nil)
	reg.RegisterSTT("remote", &stubSTT{name: "remote", text: "a"}, 0, false)
	reg.RegisterSTT("local", &stubSTT{name: "local", text: "b"}, 1, true)
	reg.SetLocalityPolicy(true, false)

	ep, err := reg.Select(RoleSTT, "")
	require.NoError(t, err)
	require.Equal(t, "local", ep.Name, "expected prefer_local to sort the local endpoint ahead of a higher-priority remote one")
}

func TestRegistryAlwaysTryLocalSelectsUnhealthyLocal(t *testing.T) {
	reg := NewRegistry(1, time.Hour, nil)
	reg.RegisterSTT("local", &stubSTT{name: "local", err: &TransientError{Provider: "local", Err: errors.New("down")}}, 0, true)
	reg.SetLocalityPolicy(false, true)

	reg.Transcribe(context.Background(), nil, LanguageEn, "")
	ep, err := reg.Select(RoleSTT, "")
	require.NoError(t, err, "expected always_try_local to keep an unhealthy local endpoint selectable")
	require.Equal(t, "local", ep.Name)
}
