package balancer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type configState struct {
	APIKeys []string `json:"API_KEYS"`
	Model   string   `json:"MODEL"`
}

func configServer(t *testing.T, state *configState, dropOnPut string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/config", r.URL.Path)
		require.Equal(t, "auth_token=sekrit", r.Header.Get("Cookie"))

		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(state)
		case http.MethodPut:
			var incoming configState
			require.NoError(t, json.NewDecoder(r.Body).Decode(&incoming))
			state.APIKeys = nil
			for _, k := range incoming.APIKeys {
				if k != dropOnPut {
					state.APIKeys = append(state.APIKeys, k)
				}
			}
			state.Model = incoming.Model
			json.NewEncoder(w).Encode(state)
		default:
			http.Error(w, "method", http.StatusMethodNotAllowed)
		}
	}))
}

func TestConfigClientPushKeys(t *testing.T) {
	state := &configState{APIKeys: []string{"old-1", "old-2"}, Model: "m"}
	srv := configServer(t, state, "")
	defer srv.Close()

	client := NewConfigClient(srv.URL, "sekrit", 0, zap.NewNop())
	err := client.PushKeys(context.Background(), []string{"new-1", "old-1", "new-2"})
	require.NoError(t, err)

	require.Equal(t, []string{"old-1", "old-2", "new-1", "new-2"}, state.APIKeys)
	require.Equal(t, "m", state.Model, "unrelated config fields survive the round trip")
}

func TestConfigClientAllAlreadyPresent(t *testing.T) {
	state := &configState{APIKeys: []string{"k1", "k2"}}
	var puts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			puts++
		}
		json.NewEncoder(w).Encode(state)
	}))
	defer srv.Close()

	client := NewConfigClient(srv.URL, "sekrit", 0, zap.NewNop())
	require.NoError(t, client.PushKeys(context.Background(), []string{"k1", "k2"}))
	require.Zero(t, puts, "no update when nothing is new")
}

func TestConfigClientVerifiesEcho(t *testing.T) {
	state := &configState{APIKeys: []string{"old-1"}}
	srv := configServer(t, state, "new-2")
	defer srv.Close()

	client := NewConfigClient(srv.URL, "sekrit", 0, zap.NewNop())
	err := client.PushKeys(context.Background(), []string{"new-1", "new-2"})
	require.Error(t, err)
	require.Equal(t, "update_failed", Reason(err))
}

func TestConfigClientGetFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewConfigClient(srv.URL, "sekrit", 0, zap.NewNop())
	err := client.PushKeys(context.Background(), []string{"k"})
	require.Equal(t, "get_config_failed_not_200", Reason(err))
}

func TestConfigClientConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := NewConfigClient(srv.URL, "sekrit", 0, zap.NewNop())
	err := client.PushKeys(context.Background(), []string{"k"})
	require.Equal(t, "connection_error", Reason(err))
}

func TestReason(t *testing.T) {
	require.Equal(t, "ok", Reason(nil))
	require.Equal(t, "update_failed", Reason(&Error{Reason: "update_failed"}))
	require.Equal(t, "exception", Reason(context.Canceled))
}
