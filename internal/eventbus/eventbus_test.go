// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package eventbus

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/volute-run/voluted/internal/sequencer"
	"github.com/volute-run/voluted/internal/store"
)

func TestPublishFansOutToSequencerAndStore(t *testing.T) {
	seq := sequencer.New()
	db, err := store.Open(filepath.Join(t.TempDir(), "volute.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sub := make(sequencer.Subscriber, 4)
	seq.Subscribe(sub)
	defer seq.Unsubscribe(sub)

	bus := New(seq, db)
	bus.Publish("mind_active", "scout", "woke up")

	evt := <-sub
	require.Equal(t, "mind_active", evt.Type)
	require.Equal(t, "scout", evt.Mind)
	require.Equal(t, "woke up", evt.Summary)

	mindName := "scout"
	events, err := db.ActivityEvents(&mindName, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, store.ActivityEventType("mind_active"), events[0].Type)
}

func TestPublishWithoutStoreStillFansOutToSequencer(t *testing.T) {
	seq := sequencer.New()
	sub := make(sequencer.Subscriber, 1)
	seq.Subscribe(sub)
	defer seq.Unsubscribe(sub)

	bus := New(seq, nil)
	bus.Publish("mind_idle", "", "")

	evt := <-sub
	require.Equal(t, "mind_idle", evt.Type)
}
