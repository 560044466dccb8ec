package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auth0session-go/internal/auth"
)

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH0_CLIENT_ID", "cli-client")
	t.Setenv("AUTH0_DOMAIN", "tenant.example.com")
	t.Setenv("AUTH0_AUDIENCE", "https://api.example.com")
	t.Setenv("AUTH0_REDIRECT_URI", "http://127.0.0.1:8765/callback")
	t.Setenv("STORAGE_EPHEMERAL", "true")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_FILE", "")
	t.Setenv("METRICS_ADDR", "")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	defer rootCmd.SetArgs(nil)

	err := rootCmd.ExecuteContext(context.Background())
	t.Cleanup(func() { _ = stopApplication(context.Background()) })
	return buf.String(), err
}

func TestCommands_Registered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"signin", "signup", "token", "userinfo", "logout", "status", "watch", "call"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestStatusCmd(t *testing.T) {
	setTestEnv(t)

	out, err := run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "client_id: cli-client")
	assert.Contains(t, out, "state:     unauthenticated")
}

func TestTokenCmd_NotSignedIn(t *testing.T) {
	setTestEnv(t)

	_, err := run(t, "token")
	assert.ErrorIs(t, err, errNotSignedIn)
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	setTestEnv(t)
	t.Setenv("AUTH0_CLIENT_ID", "")

	_, err := run(t, "status")
	assert.Error(t, err)
	assert.Nil(t, application)
}

func TestCallCmd_NotSignedIn(t *testing.T) {
	setTestEnv(t)

	_, err := run(t, "call", "/v1/me")
	assert.ErrorIs(t, err, auth.ErrNoActiveSession)
}

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		name     string
		audience string
		arg      string
		want     string
		wantErr  bool
	}{
		{name: "absolute url", audience: "api", arg: "https://other.example.com/x", want: "https://other.example.com/x"},
		{name: "path on audience", audience: "https://api.example.com", arg: "/v1/me", want: "https://api.example.com/v1/me"},
		{name: "path without url audience", audience: "api", arg: "/v1/me", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveTarget(tt.audience, tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
