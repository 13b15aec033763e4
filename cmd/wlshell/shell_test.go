package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevoDB/wearlevel/pkg/common/log"
	"github.com/KevoDB/wearlevel/pkg/config"
	"github.com/KevoDB/wearlevel/pkg/telemetry"
)

func newTestSession(t *testing.T, kind config.MediumKind) (*session, *bytes.Buffer) {
	t.Helper()

	dir := t.TempDir()
	cfg := config.NewDefaultConfig(dir)
	cfg.Medium.Kind = kind
	cfg.RecordSize = 4
	cfg.BlockCount = 3
	cfg.StartAddr = 10
	cfg.WriteLimit = 2
	cfg.Medium.Size = 64

	var out bytes.Buffer
	sess := newSession(cfg, dir, telemetry.NewNoop(), log.NewDiscard(), &out)
	t.Cleanup(func() { sess.close() })
	return sess, &out
}

func run(t *testing.T, sess *session, out *bytes.Buffer, line string) string {
	t.Helper()
	out.Reset()
	exit, err := sess.execute(context.Background(), line)
	require.NoError(t, err, line)
	require.False(t, exit)
	return out.String()
}

func TestSessionRequiresOpenMedium(t *testing.T) {
	sess, _ := newTestSession(t, config.MediumMemory)

	for _, line := range []string{".state", ".blocks", ".stats", "READ", "WRITE 0x01", "FORMAT", "RECOVER", ".fingerprint"} {
		_, err := sess.execute(context.Background(), line)
		assert.ErrorIs(t, err, errNotOpen, line)
	}
}

func TestSessionWriteReadRotate(t *testing.T) {
	sess, out := newTestSession(t, config.MediumMemory)
	require.NoError(t, sess.open(""))

	assert.Contains(t, run(t, sess, out, "READ"), "No previous data")

	assert.Contains(t, run(t, sess, out, "WRITE 0x01020304"), "Written to block 10 (write 1)")
	assert.Contains(t, run(t, sess, out, "write 0x05060708"), "Written to block 10 (write 2)")
	assert.Contains(t, run(t, sess, out, "WRITE hi"), "Written to block 16 (write 1)")

	assert.Equal(t, "0x68690000 \"hi\"\n", run(t, sess, out, "READ"))

	blocks := run(t, sess, out, ".blocks")
	lines := strings.Split(strings.TrimSpace(blocks), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "erased")
	assert.Contains(t, lines[1], "marked")
	assert.Contains(t, lines[1], "*")

	assert.Contains(t, run(t, sess, out, ".state"),
		"BlockAddr: 16 CountAddr: 17 WriteCount: 1 BlockSize: 6 StartAddr: 10 EndAddr: 28")

	stats := run(t, sess, out, ".stats")
	assert.Contains(t, stats, "rotations: 1")
	assert.Contains(t, stats, "write_ops: 3")
	assert.Contains(t, stats, "wear: ")
}

func TestSessionWriteErrors(t *testing.T) {
	sess, _ := newTestSession(t, config.MediumMemory)
	require.NoError(t, sess.open(""))

	_, err := sess.execute(context.Background(), "WRITE toolong")
	assert.Error(t, err)

	_, err = sess.execute(context.Background(), "WRITE 0xZZ")
	assert.Error(t, err)

	_, err = sess.execute(context.Background(), "WRITE")
	assert.Error(t, err)

	_, err = sess.execute(context.Background(), "FORMAT 20 10")
	assert.Error(t, err)

	_, err = sess.execute(context.Background(), "BOGUS")
	assert.Error(t, err)
}

func TestSessionFormatAndRecover(t *testing.T) {
	sess, out := newTestSession(t, config.MediumMemory)
	require.NoError(t, sess.open(""))

	run(t, sess, out, "WRITE abcd")
	assert.Contains(t, run(t, sess, out, "FORMAT"), "Erased [10, 28)")
	assert.Contains(t, run(t, sess, out, "RECOVER"), "No previous data")
	assert.Contains(t, run(t, sess, out, "READ"), "No previous data")

	assert.Contains(t, run(t, sess, out, "FORMAT 0x00 0x08"), "Erased [0, 8)")
}

func TestSessionDumpRestore(t *testing.T) {
	sess, out := newTestSession(t, config.MediumFile)
	imagePath := filepath.Join(t.TempDir(), "eeprom.img")
	snapPath := filepath.Join(t.TempDir(), "eeprom.wlsn")

	require.NoError(t, sess.open(imagePath))
	run(t, sess, out, "WRITE keep")
	before := run(t, sess, out, ".fingerprint")

	assert.Contains(t, run(t, sess, out, ".dump "+snapPath+" snappy"), "snappy")

	run(t, sess, out, "WRITE lose")
	run(t, sess, out, "WRITE more")
	assert.NotEqual(t, before, run(t, sess, out, ".fingerprint"))

	assert.Contains(t, run(t, sess, out, ".restore "+snapPath), "Restored [10, 28)")
	assert.Equal(t, before, run(t, sess, out, ".fingerprint"))
	assert.Contains(t, run(t, sess, out, "READ"), "\"keep\"")

	// Reopening the image recovers the same record
	assert.Contains(t, run(t, sess, out, ".close"), "closed")
	assert.Contains(t, run(t, sess, out, ".open "+imagePath), "WriteCount: 1")
	assert.Contains(t, run(t, sess, out, "READ"), "\"keep\"")
}

func TestSessionDumpZstdLevel(t *testing.T) {
	sess, out := newTestSession(t, config.MediumMemory)
	require.NoError(t, sess.open(""))
	run(t, sess, out, "WRITE abcd")

	snapPath := filepath.Join(t.TempDir(), "best.wlsn")
	assert.Contains(t, run(t, sess, out, ".dump "+snapPath+" zstd best"), "zstd")

	run(t, sess, out, "FORMAT")
	assert.Contains(t, run(t, sess, out, ".restore "+snapPath), "WriteCount: 1")
	assert.Contains(t, run(t, sess, out, "READ"), "\"abcd\"")

	_, err := sess.execute(context.Background(), ".dump "+snapPath+" zstd ludicrous")
	assert.Error(t, err)
}

func TestSessionSaveManifest(t *testing.T) {
	sess, out := newTestSession(t, config.MediumMemory)

	assert.Contains(t, run(t, sess, out, ".save"), "Configuration saved")

	loaded, err := config.LoadConfigFromManifest(sess.configDir)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.RecordSize)
	assert.Equal(t, config.MediumMemory, loaded.Medium.Kind)
}

func TestSessionExit(t *testing.T) {
	sess, _ := newTestSession(t, config.MediumMemory)
	require.NoError(t, sess.open(""))

	exit, err := sess.execute(context.Background(), ".exit")
	require.NoError(t, err)
	assert.True(t, exit)
	assert.False(t, sess.isOpen())
}

func TestParseRecord(t *testing.T) {
	data, err := parseRecord("0xA1b2", 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xA1, 0xB2, 0, 0}, data)

	data, err = parseRecord("ab", 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{'a', 'b', 0}, data)

	_, err = parseRecord("abcd", 3)
	assert.Error(t, err)
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := loadConfig(Options{ConfigDir: dir, MediumKind: "memory"})
	require.NoError(t, err)
	assert.Equal(t, config.MediumMemory, cfg.Medium.Kind)
	assert.Equal(t, 16, cfg.RecordSize)

	_, err = loadConfig(Options{ConfigDir: dir, MediumKind: "tape"})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
