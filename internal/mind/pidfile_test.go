// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mind

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReconcileStalePIDRemovesFileForDeadProcess(t *testing.T) {
	dir := t.TempDir()
	// PID extremely unlikely to be alive.
	require := assert.New(t)
	require.NoError(os.WriteFile(pidFilePath(dir), []byte("999999"), 0644))
	reconcileStalePID(dir, "")
	_, err := os.Stat(pidFilePath(dir))
	require.True(os.IsNotExist(err))
}

func TestReconcileStalePIDNeverKillsPIDOne(t *testing.T) {
	dir := t.TempDir()
	require := assert.New(t)
	require.NoError(os.WriteFile(pidFilePath(dir), []byte("1"), 0644))
	// PID 1 is alive (init/systemd) but looksLikeMindProcess will refuse
	// to confirm identity without a matching entrypoint hint, so the
	// reconciler must leave it alone: no kill, file left in place.
	reconcileStalePID(dir, "some-mind-entrypoint-that-will-never-match")
	data, err := os.ReadFile(pidFilePath(dir))
	require.NoError(err)
	assert.Equal(t, "1", string(data))
}

func TestReconcileStalePIDRemovesFileForGarbageContent(t *testing.T) {
	dir := t.TempDir()
	require := assert.New(t)
	require.NoError(os.WriteFile(pidFilePath(dir), []byte("not-a-pid"), 0644))
	reconcileStalePID(dir, "")
	_, err := os.Stat(pidFilePath(dir))
	require.True(os.IsNotExist(err))
}

func TestWritePIDFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, writePIDFile(dir, 4242))
	pid, ok := readPIDFile(dir)
	assert.True(t, ok)
	assert.Equal(t, 4242, pid)

	removePIDFile(dir)
	_, ok = readPIDFile(dir)
	assert.False(t, ok)
}

func TestFindPIDByInodeReturnsFalseForUnknownInode(t *testing.T) {
	_, ok := findPIDByInode("this-inode-does-not-exist-" + strconv.Itoa(os.Getpid()))
	assert.False(t, ok)
}

func TestPidFilePathJoinsStateDir(t *testing.T) {
	assert.Equal(t, filepath.Join("state", "alpha")+"/mind.pid", pidFilePath(filepath.Join("state", "alpha")))
}
