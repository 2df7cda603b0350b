// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func testHostKey(t *testing.T) (ssh.PublicKey, string) {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return sshPub, string(ssh.MarshalAuthorizedKey(sshPub))
}

func TestPinnedHostKeyCallbackMatch(t *testing.T) {
	key, line := testHostKey(t)
	cb := pinnedHostKeyCallback(func(hostname string) (string, error) {
		assert.Equal(t, "web1.example.com", hostname)
		return line, nil
	})
	assert.NoError(t, cb("web1.example.com:22", nil, key))
}

func TestPinnedHostKeyCallbackStripsPort(t *testing.T) {
	key, line := testHostKey(t)
	var seen string
	cb := pinnedHostKeyCallback(func(hostname string) (string, error) {
		seen = hostname
		return line, nil
	})
	require.NoError(t, cb("web1.example.com:2222", nil, key))
	assert.Equal(t, "web1.example.com", seen)

	// No port at all is passed through unchanged.
	require.NoError(t, cb("web1.example.com", nil, key))
	assert.Equal(t, "web1.example.com", seen)
}

func TestPinnedHostKeyCallbackUnknownHost(t *testing.T) {
	key, _ := testHostKey(t)
	cb := pinnedHostKeyCallback(func(string) (string, error) { return "", nil })
	err := cb("web1.example.com:22", nil, key)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trust-host")
}

func TestPinnedHostKeyCallbackMismatch(t *testing.T) {
	key, _ := testHostKey(t)
	_, otherLine := testHostKey(t)
	cb := pinnedHostKeyCallback(func(string) (string, error) { return otherLine, nil })
	err := cb("web1.example.com:22", nil, key)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HOST KEY MISMATCH")
}

func TestPinnedHostKeyCallbackLookupError(t *testing.T) {
	key, _ := testHostKey(t)
	boom := errors.New("db gone")
	cb := pinnedHostKeyCallback(func(string) (string, error) { return "", boom })
	err := cb("web1.example.com:22", nil, key)
	assert.ErrorIs(t, err, boom)
}
