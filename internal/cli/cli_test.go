// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bytes"
	"runtime/debug"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreilach/certmaster/internal/model"
)

func TestSplitTarget(t *testing.T) {
	user, host := splitTarget("deploy@web1.example.com")
	assert.Equal(t, "deploy", user)
	assert.Equal(t, "web1.example.com", host)

	user, host = splitTarget("web1.example.com")
	assert.Equal(t, "root", user)
	assert.Equal(t, "web1.example.com", host)
}

func TestResolveBuildVersionFallsBackToLinkerValues(t *testing.T) {
	v, c, d := resolveBuildVersion(&debug.BuildInfo{})
	assert.Equal(t, version, v)
	assert.Equal(t, gitCommit, c)
	assert.Equal(t, buildDate, d)
}

func TestResolveBuildVersionPrefersBuildInfo(t *testing.T) {
	info := &debug.BuildInfo{}
	info.Main.Version = "v1.2.3"
	info.Settings = []debug.BuildSetting{
		{Key: "vcs.revision", Value: "abcdef0"},
		{Key: "vcs.time", Value: "2026-08-24T00:00:00Z"},
	}
	v, c, d := resolveBuildVersion(info)
	assert.Equal(t, "v1.2.3", v)
	assert.Equal(t, "abcdef0", c)
	assert.Equal(t, "2026-08-24T00:00:00Z", d)
}

func TestCompressedBackupRoundTrip(t *testing.T) {
	data := &model.BackupData{
		Version: model.BackupVersion,
		Orgs:    []model.Org{{ID: 1, Slug: "acme", Name: "Acme Corp"}},
		CAKeys: []model.CAKey{{
			ID: 1, OrgID: 1, Serial: 1,
			PublicKeyLine: "ssh-ed25519 AAAA... acme-ca",
			PrivateKeyEnc: []byte{0x01, 0x02, 0x03},
			IsActive:      true,
			CreatedAt:     time.Now().UTC().Truncate(time.Second),
		}},
		AuditLog: []model.AuditLogEntry{{ID: 1, Timestamp: "2026-08-24T10:00:00Z", Action: "ca.generate", Details: "org=acme"}},
	}

	var buf bytes.Buffer
	require.NoError(t, writeCompressedBackup(&buf, data))

	got, err := readCompressedBackup(&buf)
	require.NoError(t, err)
	assert.Equal(t, data.Orgs, got.Orgs)
	assert.Equal(t, data.CAKeys[0].PrivateKeyEnc, got.CAKeys[0].PrivateKeyEnc)
	assert.Equal(t, data.AuditLog, got.AuditLog)
	assert.Equal(t, model.BackupVersion, got.Version)
}

func TestReadCompressedBackupRejectsGarbage(t *testing.T) {
	_, err := readCompressedBackup(bytes.NewReader([]byte("definitely not zstd")))
	assert.Error(t, err)
}

func TestNewRootCmdHasAllSubcommands(t *testing.T) {
	root := NewRootCmd()
	want := []string{"orgs", "ca", "sign", "serve", "trust-host", "deploy-trust", "audit", "backup", "restore", "version"}
	for _, name := range want {
		found := false
		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		assert.True(t, found, "missing subcommand %s", name)
	}
}
