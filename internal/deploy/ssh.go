// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// Package deploy connects to managed hosts over SSH and installs the
// organization's CA public key so sshd trusts certificates signed by
// it. Uploads go over pure SFTP with an atomic rename, which keeps the
// flow compatible with restricted deploy accounts.
package deploy // import "github.com/dreilach/certmaster/internal/deploy"

import (
	"fmt"
	"io"
	"net"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// HostKeyLookup returns the pinned host key for a hostname in
// authorized_keys format, or "" when the host has not been trusted yet.
// Injected so this package stays independent of the store.
type HostKeyLookup func(hostname string) (string, error)

// Deployer handles the connection and file pushes to a remote host.
type Deployer struct {
	client *ssh.Client
	sftp   *sftp.Client
}

// pinnedHostKeyCallback builds the strict host key check used for every
// outbound connection: the presented key must exactly match the pinned
// key recorded by trust-host.
func pinnedHostKeyCallback(lookup HostKeyLookup) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		// The hostname handed to the callback can carry the port; strip
		// it so the lookup matches what trust-host stored.
		host, _, err := net.SplitHostPort(hostname)
		if err != nil {
			host = hostname
		}

		presentedKey := string(ssh.MarshalAuthorizedKey(key))

		knownKey, err := lookup(host)
		if err != nil {
			return fmt.Errorf("failed to query pinned host keys: %w", err)
		}

		if knownKey == "" {
			return fmt.Errorf("unknown host key for %s. run 'certmaster trust-host' to pin it", host)
		}

		if strings.TrimSpace(knownKey) != strings.TrimSpace(presentedKey) {
			return fmt.Errorf("!!! HOST KEY MISMATCH FOR %s !!!\nRemote key presented: %s\nThis could be a man-in-the-middle attack", host, presentedKey)
		}

		return nil
	}
}

// NewDeployer opens an SSH connection to host as user and returns a
// Deployer. Authentication tries the provided private key first and
// falls back to a running SSH agent.
func NewDeployer(host, user, privateKey string, lookup HostKeyLookup) (*Deployer, error) {
	hostKeyCallback := pinnedHostKeyCallback(lookup)

	// Add port 22 if not specified.
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, "22")
	}

	var finalErr error

	// --- Attempt 1: the provided deploy key ---
	if privateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(privateKey))
		if err != nil {
			return nil, fmt.Errorf("unable to parse private key: %w", err)
		}

		config := &ssh.ClientConfig{
			User:            user,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         10 * time.Second,
		}

		client, err := ssh.Dial("tcp", addr, config)
		if err == nil {
			sftpClient, sftpErr := sftp.NewClient(client)
			if sftpErr != nil {
				client.Close()
				return nil, fmt.Errorf("failed to create sftp client: %w", sftpErr)
			}
			return &Deployer{client: client, sftp: sftpClient}, nil
		}

		// Anything other than an auth failure is fatal; host key
		// mismatches must never be retried with different credentials.
		if !strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("connection with deploy key failed: %w", err)
		}
		finalErr = err
	}

	// --- Attempt 2: a running SSH agent ---
	agentClient := getSSHAgent()
	if agentClient == nil {
		if finalErr != nil {
			return nil, fmt.Errorf("deploy key authentication failed, and no SSH agent available for fallback: %w", finalErr)
		}
		return nil, fmt.Errorf("no authentication method available (no deploy key provided and no ssh agent found)")
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeysCallback(agentClient.Signers)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         10 * time.Second,
	}

	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("connection with ssh agent failed: %w", err)
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}

	return &Deployer{client: client, sftp: sftpClient}, nil
}

// DeployTrustedCA uploads the CA public key file to trustPath on the
// remote host, uploading to a temp file first and renaming into place.
// trustPath is the file sshd's TrustedUserCAKeys directive points at.
func (d *Deployer) DeployTrustedCA(trustPath, content string) error {
	dir := path.Dir(trustPath)

	tmpPath := path.Join(dir, fmt.Sprintf(".%s.certmaster.%d", path.Base(trustPath), time.Now().UnixNano()))
	f, err := d.sftp.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary file on remote: %w", err)
	}
	if _, err := f.Write([]byte(content)); err != nil {
		f.Close()
		_ = d.sftp.Remove(tmpPath)
		return fmt.Errorf("failed to write to temporary file on remote: %w", err)
	}
	f.Close()

	// sshd wants the CA file world-readable but not writable.
	if err := d.sftp.Chmod(tmpPath, 0644); err != nil {
		_ = d.sftp.Remove(tmpPath)
		return fmt.Errorf("failed to chmod temporary file: %w", err)
	}

	if err := d.sftp.Rename(tmpPath, trustPath); err != nil {
		_ = d.sftp.Remove(tmpPath)
		return fmt.Errorf("failed to atomically rename trusted CA file: %w", err)
	}

	return nil
}

// FetchTrustedCA reads the currently installed CA file from the remote
// host, for drift checks before a deploy.
func (d *Deployer) FetchTrustedCA(trustPath string) ([]byte, error) {
	f, err := d.sftp.Open(trustPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote file %s: %w", trustPath, err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read from remote file %s: %w", trustPath, err)
	}
	return content, nil
}

// Close closes the underlying SSH and SFTP clients.
func (d *Deployer) Close() {
	if d.sftp != nil {
		d.sftp.Close()
	}
	if d.client != nil {
		d.client.Close()
	}
}

// GetRemoteHostKey connects to a host just to retrieve its public key,
// for trust-host to pin.
func GetRemoteHostKey(host string) (ssh.PublicKey, error) {
	keyChan := make(chan ssh.PublicKey, 1)

	config := &ssh.ClientConfig{
		// No authentication needed, just start the handshake.
		User: "certmaster-probe",
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			keyChan <- key
			// Returning an error stops the handshake once we have the key.
			return fmt.Errorf("certmaster: successfully retrieved host key")
		},
		Timeout: 5 * time.Second,
	}

	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, "22")
	}

	// ssh.Dial is expected to fail with our sentinel error.
	_, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		if strings.Contains(err.Error(), "certmaster: successfully retrieved host key") {
			return <-keyChan, nil
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", host, err)
	}

	return nil, fmt.Errorf("ssh.Dial succeeded unexpectedly, could not retrieve key")
}
