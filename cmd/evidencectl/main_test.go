package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/kms/credentials"
)

func memoryEnv(t *testing.T) {
	t.Setenv("EVIDENCE_STORAGE_BACKEND", "memory")
	t.Setenv("EVIDENCE_AUDIT_TYPE", "memory")
	t.Setenv("EVIDENCE_LOG_LEVEL", "disabled")
}

func TestRunDemo(t *testing.T) {
	memoryEnv(t)
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"-devices", "2", "-events", "2", "-export-dir", dir}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "Scenario finished.")
	assert.Contains(t, stdout.String(), `"total_events": 4`)

	timeline, err := os.ReadFile(filepath.Join(dir, "timeline.csv"))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(timeline)), "\n"), 5)

	_, err = os.Stat(filepath.Join(dir, "verify_summary.csv"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunTamper(t *testing.T) {
	memoryEnv(t)
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer

	args := []string{"-devices", "3", "-events", "2", "-hashchain", "-run", "tamper", "-summary", "-seed", "7", "-export-dir", dir}
	code := run(context.Background(), args, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	out := stdout.String()
	assert.Contains(t, out, "Tampered IDs: [")
	assert.Contains(t, out, "Record ID | Status |")
	assert.Contains(t, out, "Total records: 6")
	assert.Contains(t, out, "Failed       : 1")

	csv, err := os.ReadFile(filepath.Join(dir, "verify_summary.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(csv), "Record ID,Status,Reason\n"))

	txt, err := os.ReadFile(filepath.Join(dir, "verify_summary.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(txt), strings.Repeat("-", 40))

	logData, err := os.ReadFile(filepath.Join(dir, "audit_log.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "Total: 6, OK: 5, Failed: 1")
}

func TestRunRejectsBadArguments(t *testing.T) {
	memoryEnv(t)
	var stdout, stderr bytes.Buffer

	assert.Equal(t, 2, run(context.Background(), []string{"-run", "explode"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "-run must be")

	assert.Equal(t, 2, run(context.Background(), []string{"-devices", "x"}, &stdout, &stderr))

	stderr.Reset()
	assert.Equal(t, 2, run(context.Background(), []string{"-devices", "0", "-export-dir", t.TempDir()}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "invalid scenario")
}

func TestRunSealSecret(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(255 - i)
	}
	var stdout, stderr bytes.Buffer

	t.Setenv("EVIDENCE_CREDENTIALS_KEY", "")
	assert.Equal(t, 2, run(context.Background(), []string{"-seal-secret", "token"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "at least 32 bytes")

	t.Setenv("EVIDENCE_CREDENTIALS_KEY", base64.StdEncoding.EncodeToString(key))
	require.Equal(t, 0, run(context.Background(), []string{"-seal-secret", "token"}, &stdout, &stderr))
	sealed := strings.TrimSpace(stdout.String())
	assert.True(t, credentials.IsSealed(sealed))

	sealer, err := credentials.NewSealer(key)
	require.NoError(t, err)
	opened, err := sealer.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "token", opened)
}

func TestRunRerunNeedsFresh(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("EVIDENCE_STORAGE_BACKEND", "sqlite")
	t.Setenv("EVIDENCE_STORAGE_SQLITE_PATH", filepath.Join(dir, "evidence.db"))
	t.Setenv("EVIDENCE_AUDIT_TYPE", "memory")
	t.Setenv("EVIDENCE_LOG_LEVEL", "disabled")
	args := []string{"-devices", "2", "-events", "2", "-run", "tamper", "-export-dir", dir}

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run(context.Background(), args, &stdout, &stderr), stderr.String())

	stderr.Reset()
	assert.Equal(t, 2, run(context.Background(), args, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "-fresh")

	stdout.Reset()
	stderr.Reset()
	require.Equal(t, 0, run(context.Background(), append(args, "-fresh"), &stdout, &stderr), stderr.String())
	assert.Contains(t, stdout.String(), "Tampered IDs: [")

	logData, err := os.ReadFile(filepath.Join(dir, "audit_log.txt"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(logData), "Total: 4, OK: 3, Failed: 1"))
}
