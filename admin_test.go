package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/linedrive-go/internal/store"
)

// seededConfig writes a config pointing at a fresh SQLite database holding
// one credential and one group with two members.
func seededConfig(t *testing.T) (cfgPath, dsn string) {
	t.Helper()

	dsn = filepath.Join(t.TempDir(), "linedrive.db")
	ctx := context.Background()

	db, err := store.OpenSQL(ctx, store.SQLConfig{Driver: store.DriverSQLite, DSN: dsn}, testLogger(t))
	require.NoError(t, err)

	require.NoError(t, db.PutCredential(ctx, &store.Credential{
		UserID:       "U1",
		AccessToken:  "secret-access",
		RefreshToken: "secret-refresh",
		Expiry:       time.Now().Add(time.Hour),
	}))
	require.NoError(t, db.RecordMember(ctx, "C1", "U1", store.KindGroup))
	require.NoError(t, db.RecordMember(ctx, "C1", "U2", store.KindGroup))
	require.NoError(t, db.Close())

	cfgPath = writeConfig(t, "[storage]\nbackend = \"sqlite\"\ndsn = \""+dsn+"\"\n")

	return cfgPath, dsn
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--quiet"}, args...))

	var out bytes.Buffer
	cmd.SetOut(&out)

	err := cmd.Execute()

	return out.String(), err
}

func TestCredentialsList(t *testing.T) {
	saveGlobals(t)

	cfgPath, _ := seededConfig(t)

	out, err := execute(t, "--config", cfgPath, "credentials", "list")
	require.NoError(t, err)

	assert.Contains(t, out, "USER")
	assert.Contains(t, out, "U1")
	assert.NotContains(t, out, "secret-access")
}

func TestCredentialsList_JSONOmitsTokens(t *testing.T) {
	saveGlobals(t)

	cfgPath, _ := seededConfig(t)

	out, err := execute(t, "--config", cfgPath, "--json", "credentials", "list")
	require.NoError(t, err)

	var got []credentialJSON
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "U1", got[0].UserID)
	assert.NotContains(t, out, "secret")
}

func TestCredentialsRevoke(t *testing.T) {
	saveGlobals(t)

	cfgPath, dsn := seededConfig(t)

	_, err := execute(t, "--config", cfgPath, "credentials", "revoke", "U1")
	require.NoError(t, err)

	db, err := store.OpenSQL(context.Background(), store.SQLConfig{Driver: store.DriverSQLite, DSN: dsn}, testLogger(t))
	require.NoError(t, err)
	defer db.Close()

	c, err := db.Credential(context.Background(), "U1")
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = execute(t, "--config", cfgPath, "credentials", "revoke", "U1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credential stored for U1")
}

func TestMembersList(t *testing.T) {
	saveGlobals(t)

	cfgPath, _ := seededConfig(t)

	out, err := execute(t, "--config", cfgPath, "members", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "GROUP")
	assert.Contains(t, out, "C1")

	out, err = execute(t, "--config", cfgPath, "--json", "members", "list", "C1")
	require.NoError(t, err)

	var members []memberJSON
	require.NoError(t, json.Unmarshal([]byte(out), &members))
	require.Len(t, members, 2)
	assert.Equal(t, "U1", members[0].UserID)
	assert.Equal(t, "U2", members[1].UserID)
}

func TestAdminCommands_RefuseMemoryBackend(t *testing.T) {
	saveGlobals(t)

	cfgPath := writeConfig(t, "[storage]\nbackend = \"memory\"\n")

	for _, args := range [][]string{
		{"credentials", "list"},
		{"members", "list"},
		{"migrate"},
	} {
		_, err := execute(t, append([]string{"--config", cfgPath}, args...)...)
		require.Error(t, err, args)
		assert.Contains(t, err.Error(), `"memory"`)
	}
}

func TestMigrate_CreatesSchema(t *testing.T) {
	saveGlobals(t)

	dsn := filepath.Join(t.TempDir(), "fresh", "linedrive.db")
	cfgPath := writeConfig(t, "[storage]\nbackend = \"sqlite\"\ndsn = \""+dsn+"\"\n")

	_, err := execute(t, "--config", cfgPath, "migrate")
	require.NoError(t, err)

	db, err := store.OpenSQL(context.Background(), store.SQLConfig{Driver: store.DriverSQLite, DSN: dsn}, testLogger(t))
	require.NoError(t, err)
	defer db.Close()

	groups, err := db.Groups(context.Background())
	require.NoError(t, err)
	assert.Empty(t, groups)
}
