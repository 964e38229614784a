package transport_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phnomcobra/stembot/internal/crypto"
	"github.com/phnomcobra/stembot/internal/transport"
	"github.com/phnomcobra/stembot/internal/types"
)

var clientTestKey = []byte("0123456789abcdef")

// echoServer decrypts the request, unmarshals it as a NetworkMessage, and
// replies with an ACKNOWLEDGEMENT carrying the request's Isrc back as
// Agtuuid so tests can assert the request was actually decrypted correctly
// and that SendMessage stamped Isrc.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		plaintext, err := crypto.DecodeEnvelope(clientTestKey, string(body), r.Header.Get("Nonce"), r.Header.Get("Tag"))
		if err != nil {
			// Exercises SendMessage's error path when the client signs
			// with a key the server doesn't share.
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var msg types.NetworkMessage
		if err := json.Unmarshal(plaintext, &msg); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		reply := types.NetworkMessage{Type: types.Acknowledgement, Src: "server", AckType: msg.Type, Agtuuid: msg.Isrc}
		replyBytes, err := json.Marshal(reply)
		require.NoError(t, err)
		respBody, nonceB64, tagB64, err := crypto.EncodeEnvelope(clientTestKey, replyBytes)
		require.NoError(t, err)
		w.Header().Set("Nonce", nonceB64)
		w.Header().Set("Tag", tagB64)
		w.Write([]byte(respBody))
	}))
}

func TestSendMessageDecryptsReplyAndStampsIsrc(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	c := transport.New(clientTestKey, 0)
	reply, err := c.SendMessage(srv.URL, types.NetworkMessage{Type: types.Ping, Src: "agent-a"}, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, types.Acknowledgement, reply.Type)
	assert.Equal(t, "agent-a", reply.Agtuuid)
}

// echoFormServer decrypts a /control envelope as a Form and echoes Error
// back so the client-side round trip of SendControlForm can be checked.
func echoFormServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		plaintext, err := crypto.DecodeEnvelope(clientTestKey, string(body), r.Header.Get("Nonce"), r.Header.Get("Tag"))
		require.NoError(t, err)

		var form types.Form
		require.NoError(t, json.Unmarshal(plaintext, &form))
		form.Error = "handled"

		replyBytes, err := json.Marshal(form)
		require.NoError(t, err)
		respBody, nonceB64, tagB64, err := crypto.EncodeEnvelope(clientTestKey, replyBytes)
		require.NoError(t, err)
		w.Header().Set("Nonce", nonceB64)
		w.Header().Set("Tag", tagB64)
		w.Write([]byte(respBody))
	}))
}

func TestSendControlFormRoundTrips(t *testing.T) {
	srv := echoFormServer(t)
	defer srv.Close()

	c := transport.New(clientTestKey, 0)
	reply, err := c.SendControlForm(srv.URL, types.Form{Type: types.GetPeersForm})
	require.NoError(t, err)
	assert.Equal(t, "handled", reply.Error)
}

func TestSendMessageReturnsErrorOnWrongKey(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	wrongKey := []byte("fedcba9876543210")
	c := transport.New(wrongKey, 0)
	_, err := c.SendMessage(srv.URL, types.NetworkMessage{Type: types.Ping, Src: "agent-a"}, "agent-a")
	assert.Error(t, err)
}

func TestSendMessageReturnsErrorWhenUnreachable(t *testing.T) {
	c := transport.New(clientTestKey, 0)
	_, err := c.SendMessage("http://127.0.0.1:1", types.NetworkMessage{Type: types.Ping, Src: "agent-a"}, "agent-a")
	assert.Error(t, err)
}
