package cmd

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/habedi/inspecta/app"
	"github.com/habedi/inspecta/auth"
	"github.com/habedi/inspecta/client"
	"github.com/habedi/inspecta/config"
	"github.com/habedi/inspecta/db"
	"github.com/habedi/inspecta/pkg/clierr"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCallFixture(t *testing.T) (*app.Container, *bytes.Buffer, *cobra.Command) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/"+client.LoginPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":"access","refreshToken":"refresh"}`))
	})
	mux.HandleFunc("/api/echo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if len(body) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write(body)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Backends.API = server.URL
	cfg.Backends.Asset = server.URL
	cfg.Backends.Auth = server.URL
	cfg.Backends.GenAI = server.URL

	gormDB, err := db.OpenInMemory()
	require.NoError(t, err)
	c, err := app.NewContainer(cfg, gormDB)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	_, err = c.Session().Login(context.Background(), c.Backends().Auth, auth.Credentials{Email: "a@b.c", Password: "pw"})
	require.NoError(t, err)

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetContext(context.Background())
	return c, &out, cmd
}

func TestRunCall_PrintsIndentedJSON(t *testing.T) {
	c, out, cmd := newCallFixture(t)

	require.NoError(t, runCall(cmd, c, client.Primary, "api/echo", "post", `{"id":1}`))
	assert.Contains(t, out.String(), "\"id\": 1")
}

func TestRunCall_EmptyResponse(t *testing.T) {
	c, out, cmd := newCallFixture(t)

	require.NoError(t, runCall(cmd, c, client.GenAI, "api/echo", http.MethodGet, ""))
	assert.Contains(t, out.String(), "(empty response)")
}

func TestRunCall_Errors(t *testing.T) {
	c, _, cmd := newCallFixture(t)

	var cliErr *clierr.Error
	require.ErrorAs(t, runCall(cmd, c, "billing", "api/echo", http.MethodGet, ""), &cliErr)
	assert.Equal(t, clierr.Validation, cliErr.Type)

	require.ErrorAs(t, runCall(cmd, c, client.Primary, "api/echo", http.MethodPost, "{not json"), &cliErr)
	assert.Equal(t, clierr.Validation, cliErr.Type)

	require.ErrorAs(t, runCall(cmd, c, client.Primary, "api/missing", http.MethodGet, ""), &cliErr)
	assert.Equal(t, clierr.Internal, cliErr.Type)
}
