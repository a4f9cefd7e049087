package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetContacts(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/contacts", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"contacts": []map[string]string{
				{"id": "c-1", "first_name": "Patricia", "last_name": "Jones", "phone": "2055550100", "email": "pat@example.com", "date_of_birth": "1957-03-14"},
				{"id": "c-2", "first_name": "Robert", "last_name": "Smith", "phone": ""},
			},
		})
	})

	client := NewClient(srv.URL, "test-key", zap.NewNop())
	contacts, err := client.GetContacts(context.Background())
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, "c-1", contacts[0].ID)
	require.NotNil(t, contacts[0].DateOfBirth)
	assert.Equal(t, 1957, contacts[0].DateOfBirth.Year())
	assert.Nil(t, contacts[1].DateOfBirth)
}

func TestGetContactsServerError(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	client := NewClient(srv.URL, "test-key", zap.NewNop())
	_, err := client.GetContacts(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestTestConnection(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/ping" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	client := NewClient(srv.URL, "test-key", zap.NewNop())
	assert.True(t, client.TestConnection(context.Background()))
}

func TestSendMessage(t *testing.T) {
	var got messageRequest
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	})

	client := NewClient(srv.URL, "test-key", zap.NewNop())
	err := client.SendMessage(context.Background(), "2055550100", "hello")
	require.NoError(t, err)
	assert.Equal(t, "2055550100", got.To)
	assert.Equal(t, "hello", got.Body)
}
