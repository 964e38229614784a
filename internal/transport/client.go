// Package transport implements the outbound HTTP client side of the
// envelope (spec.md §6), grounded on
// original_source/stembot/adapter/agent.py's ControlFormClient/
// NetworkMessageClient: POST the base64 ciphertext body with Nonce/Tag
// base64 headers, a 5-second hard timeout, and decrypt the response using
// the fresh Nonce/Tag headers the server sends with it.
package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/phnomcobra/stembot/internal/crypto"
	"github.com/phnomcobra/stembot/internal/types"
)

// Client pushes NetworkMessages and ControlForms to a peer's /mpi or
// /control endpoint.
type Client struct {
	key  []byte
	http *http.Client
}

// New builds a Client keyed by the 128-bit key derived from the shared
// secret digest (crypto.DeriveKey); timeout matches
// spec.md §5 ("HTTP client: 5 s hard timeout per request").
func New(key []byte, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{key: key, http: &http.Client{Timeout: timeout}}
}

// post envelopes payload, POSTs it to url, and decodes + decrypts the
// response into out.
func (c *Client) post(url string, payload any, out any) error {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	body, nonceB64, tagB64, err := crypto.EncodeEnvelope(c.key, plaintext)
	if err != nil {
		return fmt.Errorf("sealing request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		return err
	}
	req.Header.Set("Nonce", nonceB64)
	req.Header.Set("Tag", tagB64)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting to %s: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response from %s: %w", url, err)
	}
	respNonce := resp.Header.Get("Nonce")
	respTag := resp.Header.Get("Tag")

	plaintextResp, err := crypto.DecodeEnvelope(c.key, string(respBody), respNonce, respTag)
	if err != nil {
		return fmt.Errorf("opening response from %s: %w", url, err)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(plaintextResp, out)
}

// SendMessage pushes msg to peerURL's /mpi endpoint and returns the
// peer's NetworkMessage reply (typically an ACKNOWLEDGEMENT).
func (c *Client) SendMessage(peerURL string, msg types.NetworkMessage, isrc string) (types.NetworkMessage, error) {
	msg.Isrc = isrc
	var reply types.NetworkMessage
	if err := c.post(peerURL, msg, &reply); err != nil {
		return types.NetworkMessage{}, err
	}
	return reply, nil
}

// SendControlForm pushes form to peerURL's /control endpoint.
func (c *Client) SendControlForm(peerURL string, form types.Form) (types.Form, error) {
	var reply types.Form
	if err := c.post(peerURL, form, &reply); err != nil {
		return types.Form{}, err
	}
	return reply, nil
}
