// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnExternalWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "minds.json")

	writer, err := New(path, 4100)
	require.NoError(t, err)
	_, err = writer.Add("alpha", 4100, StageSeed, "", "2026-07-31T00:00:00Z")
	require.NoError(t, err)

	reader, err := New(path, 4100)
	require.NoError(t, err)

	w, err := NewWatcher(reader)
	require.NoError(t, err)
	defer w.Close()
	go w.Run()

	_, err = writer.Add("beta", 4101, StageSeed, "", "2026-07-31T00:00:00Z")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := reader.Find("beta")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
}
