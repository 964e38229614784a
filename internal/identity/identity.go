// Package identity resolves the agent's stable identifier, listen
// address, and shared secret from the persistent kvstore, grounded on
// original_source/stembot/main.py's config dict (C1: Identity & Config).
package identity

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"

	"github.com/phnomcobra/stembot/internal/store"
)

// Identity holds everything C1 is responsible for: the agent id, where it
// listens, and the derived crypto key material (via crypto.DeriveKey on
// SecretDigest).
type Identity struct {
	Agtuuid      string
	SocketHost   string
	SocketPort   int
	SecretDigest string // base64 sha256 digest of the shared secret
}

// defaultSecretDigest reproduces main.py's
// b64encode(hashlib.sha256('changeme'.encode()).digest()).decode().
func defaultSecretDigest() string {
	sum := sha256.Sum256([]byte("changeme"))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Load resolves identity from kv, persisting any generated defaults so
// subsequent restarts see the same agtuuid/secret (spec.md §6
// "Persistent state").
func Load(kv *store.KV) (Identity, error) {
	var id Identity

	var agtuuid string
	if err := kv.GetOrSetDefault("agtuuid", uuid.New().String(), &agtuuid); err != nil {
		return id, fmt.Errorf("resolving agtuuid: %w", err)
	}
	id.Agtuuid = agtuuid

	var host string
	if err := kv.GetOrSetDefault("socket_host", "0.0.0.0", &host); err != nil {
		return id, fmt.Errorf("resolving socket_host: %w", err)
	}
	id.SocketHost = host

	var port int
	if err := kv.GetOrSetDefault("socket_port", 53080, &port); err != nil {
		return id, fmt.Errorf("resolving socket_port: %w", err)
	}
	id.SocketPort = port

	var digest string
	if err := kv.GetOrSetDefault("secret_digest", defaultSecretDigest(), &digest); err != nil {
		return id, fmt.Errorf("resolving secret_digest: %w", err)
	}
	id.SecretDigest = digest

	return id, nil
}

// Addr formats host:port for net/http.
func (i Identity) Addr() string {
	return fmt.Sprintf("%s:%d", i.SocketHost, i.SocketPort)
}
