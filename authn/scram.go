// Package authn implements broker-side MQTT v5.0 enhanced
// authentication (the AUTH packet exchange). It ships a single
// mechanism, SCRAM-SHA-256, as a mqttd.AuthenticatorFactory.
package authn

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/brokermq/core/internal/wire"
	"github.com/brokermq/core/mqttd"
)

const scramMethod = "SCRAM-SHA-256"
const scramKeyLen = 32

// DefaultIterations is used by NewCredential when the caller doesn't
// specify an iteration count.
const DefaultIterations = 4096

// Credential is one user's SCRAM-SHA-256 verifier: the salt and
// iteration count used to derive it, and the two HMAC keys derived
// from the salted password. The plaintext password itself is never
// stored.
type Credential struct {
	Salt       []byte
	Iterations int
	StoredKey  []byte
	ServerKey  []byte
}

// NewCredential derives a Credential from a plaintext password,
// generating a random 16-byte salt.
func NewCredential(password string, iterations int) (*Credential, error) {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("authn: generating salt: %w", err)
	}
	salted := pbkdf2.Key([]byte(password), salt, iterations, scramKeyLen, sha256.New)
	clientKey := hmacSum(salted, []byte("Client Key"))
	storedKey := sha256.Sum256(clientKey)
	serverKey := hmacSum(salted, []byte("Server Key"))
	return &Credential{Salt: salt, Iterations: iterations, StoredKey: storedKey[:], ServerKey: serverKey}, nil
}

// CredentialStore looks up a user's SCRAM verifier by username.
type CredentialStore interface {
	Lookup(username string) (*Credential, bool)
}

// MemoryStore is a CredentialStore backed by an in-memory map,
// suitable for examples and tests. It is not safe for concurrent
// writes alongside reads.
type MemoryStore map[string]*Credential

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() MemoryStore { return make(MemoryStore) }

// Add derives and stores a Credential for username.
func (s MemoryStore) Add(username, password string, iterations int) error {
	cred, err := NewCredential(password, iterations)
	if err != nil {
		return err
	}
	s[username] = cred
	return nil
}

func (s MemoryStore) Lookup(username string) (*Credential, bool) {
	cred, ok := s[username]
	return cred, ok
}

// ErrAuthentication is wrapped by every failure scram produces once an
// exchange is underway (malformed messages, unknown user, bad proof).
var ErrAuthentication = errors.New("authn: scram authentication failed")

// scramServer drives one connection's SCRAM-SHA-256 exchange. A fresh
// instance is created per connection by NewScramAuthenticatorFactory,
// since the transcript hash and nonces it accumulates are
// connection-scoped.
type scramServer struct {
	store CredentialStore

	step        int
	username    string
	clientNonce string
	serverNonce string
	authMessage string
	cred        *Credential
}

// NewScramAuthenticatorFactory returns a mqttd.AuthenticatorFactory
// that authenticates against store, one scramServer per connection.
func NewScramAuthenticatorFactory(store CredentialStore) mqttd.AuthenticatorFactory {
	return func() mqttd.Authenticator {
		return &scramServer{store: store}
	}
}

// Authenticate implements mqttd.Authenticator. The exchange has two
// server-side steps: step 0 answers the client-first-message with a
// challenge (salt, iteration count, combined nonce); step 1 verifies
// the client's proof against the stored key and, on success, returns
// a server signature the client can verify in turn.
func (s *scramServer) Authenticate(ctx context.Context, in *wire.AuthPacket) (*wire.AuthPacket, error) {
	if in.Properties == nil || in.Properties.AuthenticationMethod != scramMethod {
		return nil, fmt.Errorf("%w: unsupported method %q", ErrAuthentication, authMethodOf(in))
	}

	switch s.step {
	case 0:
		return s.handleClientFirst(in.Properties.AuthenticationData)
	case 1:
		return s.handleClientFinal(in.Properties.AuthenticationData)
	default:
		return nil, fmt.Errorf("%w: exchange already complete", ErrAuthentication)
	}
}

func authMethodOf(in *wire.AuthPacket) string {
	if in.Properties == nil {
		return ""
	}
	return in.Properties.AuthenticationMethod
}

func (s *scramServer) handleClientFirst(data []byte) (*wire.AuthPacket, error) {
	attrs := parseSCRAMMessage(string(data))

	username, ok := attrs["n"]
	if !ok {
		return nil, fmt.Errorf("%w: client-first-message missing username", ErrAuthentication)
	}
	clientNonce, ok := attrs["r"]
	if !ok {
		return nil, fmt.Errorf("%w: client-first-message missing nonce", ErrAuthentication)
	}

	cred, ok := s.store.Lookup(username)
	if !ok {
		return nil, fmt.Errorf("%w: unknown user %q", ErrAuthentication, username)
	}

	serverNonceSuffix := make([]byte, 16)
	if _, err := rand.Read(serverNonceSuffix); err != nil {
		return nil, fmt.Errorf("authn: generating server nonce: %w", err)
	}

	s.username = username
	s.clientNonce = clientNonce
	s.serverNonce = clientNonce + base64.RawStdEncoding.EncodeToString(serverNonceSuffix)
	s.cred = cred
	s.authMessage = fmt.Sprintf("n=%s,r=%s", username, clientNonce)
	s.step = 1

	serverFirst := fmt.Sprintf("r=%s,s=%s,i=%d", s.serverNonce, base64.StdEncoding.EncodeToString(cred.Salt), cred.Iterations)
	s.authMessage += "," + serverFirst

	return &wire.AuthPacket{
		ReasonCode: wire.AuthReasonContinue,
		Properties: &wire.Properties{
			Presence:             wire.PresAuthenticationMethod | wire.PresAuthenticationData,
			AuthenticationMethod: scramMethod,
			AuthenticationData:   []byte(serverFirst),
		},
	}, nil
}

func (s *scramServer) handleClientFinal(data []byte) (*wire.AuthPacket, error) {
	attrs := parseSCRAMMessage(string(data))

	r, ok := attrs["r"]
	if !ok || r != s.serverNonce {
		return nil, fmt.Errorf("%w: nonce mismatch", ErrAuthentication)
	}
	proofStr, ok := attrs["p"]
	if !ok {
		return nil, fmt.Errorf("%w: client-final-message missing proof", ErrAuthentication)
	}
	proof, err := base64.StdEncoding.DecodeString(proofStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid proof encoding: %v", ErrAuthentication, err)
	}

	withoutProof := "c=biws,r=" + r
	authMessage := s.authMessage + "," + withoutProof

	clientSignature := hmacSum(s.cred.StoredKey, []byte(authMessage))
	if len(proof) != len(clientSignature) {
		return nil, fmt.Errorf("%w: malformed proof", ErrAuthentication)
	}
	clientKey := make([]byte, len(proof))
	for i := range proof {
		clientKey[i] = proof[i] ^ clientSignature[i]
	}
	storedKey := sha256.Sum256(clientKey)
	if !hmac.Equal(storedKey[:], s.cred.StoredKey) {
		return nil, fmt.Errorf("%w: proof does not match stored key", ErrAuthentication)
	}

	serverSignature := hmacSum(s.cred.ServerKey, []byte(authMessage))
	serverFinal := "v=" + base64.StdEncoding.EncodeToString(serverSignature)
	s.step = 2

	return &wire.AuthPacket{
		ReasonCode: wire.RCSuccess,
		Properties: &wire.Properties{
			Presence:             wire.PresAuthenticationMethod | wire.PresAuthenticationData,
			AuthenticationMethod: scramMethod,
			AuthenticationData:   []byte(serverFinal),
		},
	}, nil
}

func hmacSum(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// parseSCRAMMessage splits a comma-separated k=v attribute list. Values
// may themselves contain "=" (base64 padding), so splitting is bounded
// to the first separator per attribute.
func parseSCRAMMessage(msg string) map[string]string {
	attrs := make(map[string]string)
	for _, part := range strings.Split(msg, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			continue
		}
		attrs[kv[0]] = kv[1]
	}
	return attrs
}
