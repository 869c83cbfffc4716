package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/medcare-hms/medcare/internal/app"
	"github.com/medcare-hms/medcare/internal/shared"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("JWT_SECRET", testSecret)
	root := newRootCmd(func() {})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	out, err := runRoot(t, "token", "--sub", "7", "--role", shared.RoleCashier, "--ttl", "30m", "--json")
	require.NoError(t, err)

	var body struct {
		Token     string `json:"token"`
		ActorID   int64  `json:"actor_id"`
		Role      string `json:"role"`
		ExpiresIn int64  `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.Equal(t, int64(7), body.ActorID)
	require.Equal(t, int64(1800), body.ExpiresIn)

	actor, err := app.NewAuthenticator(testSecret, "medcare", nil).Parse(body.Token)
	require.NoError(t, err)
	require.Equal(t, shared.Actor{ID: 7, Role: shared.RoleCashier}, actor)
}

func TestTokenCommandUnknownRoleExitsTwo(t *testing.T) {
	out, err := runRoot(t, "token", "--sub", "7", "--role", "janitor")
	var code exitCode
	require.True(t, errors.As(err, &code))
	require.Equal(t, exitCode(2), code)
	require.Contains(t, out, `unknown role "janitor"`)
}

func TestJobsTriggerRequiresTaskName(t *testing.T) {
	_, err := runRoot(t, "jobs", "trigger")
	require.Error(t, err)
	require.Contains(t, err.Error(), "accepts 1 arg")
}

func TestUnknownCommandFails(t *testing.T) {
	_, err := runRoot(t, "frobnicate")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown command")
}

func TestRootRegistersSubcommands(t *testing.T) {
	root := newRootCmd(func() {})
	for _, path := range [][]string{{"serve"}, {"migrate"}, {"token"}, {"jobs", "trigger"}, {"jobs", "stats"}} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		require.Equal(t, path[len(path)-1], cmd.Name())
	}
	token, _, err := root.Find([]string{"token"})
	require.NoError(t, err)
	for _, flag := range []string{"sub", "role", "ttl", "json"} {
		require.NotNil(t, token.Flags().Lookup(flag), flag)
	}
}
