package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitorus/signflow"
	"github.com/digitorus/signflow/audit"
)

func TestStoreCopiesDocuments(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	doc := &signflow.Document{ID: "d1", Name: "Lease", Signers: []signflow.Signer{{ID: "s1"}}}
	require.NoError(t, s.Create(ctx, doc))
	assert.Error(t, s.Create(ctx, doc), "duplicate id")

	doc.Signers[0].ID = "changed"
	got, err := s.Load(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.Signers[0].ID)

	got.Name = "Changed"
	again, err := s.Load(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Lease", again.Name)
}

func TestStoreSave(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &signflow.Document{ID: "d1"}))

	a, _ := s.Load(ctx, "d1")
	b, _ := s.Load(ctx, "d1")
	a.AuditTrail.Append(audit.Entry{Activity: audit.Sent, Timestamp: time.Now()})
	require.NoError(t, s.Save(ctx, a))
	assert.Equal(t, uint64(2), a.Version)
	assert.ErrorIs(t, s.Save(ctx, b), signflow.ErrConflict)

	c, _ := s.Load(ctx, "d1")
	c.AuditTrail = nil
	assert.Error(t, s.Save(ctx, c), "dropping entries must fail")

	assert.ErrorIs(t, s.Save(ctx, &signflow.Document{ID: "nope"}), signflow.ErrNotFound)
	_, err := s.Load(ctx, "nope")
	assert.ErrorIs(t, err, signflow.ErrNotFound)
}

func TestListExpirable(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Create(ctx, &signflow.Document{ID: "b", Status: signflow.Sent, ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, s.Create(ctx, &signflow.Document{ID: "a", Status: signflow.Draft, ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, s.Create(ctx, &signflow.Document{ID: "c", Status: signflow.Declined, ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, s.Create(ctx, &signflow.Document{ID: "d", Status: signflow.Sent}))

	ids, err := s.ListExpirable(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestBlobs(t *testing.T) {
	b := NewBlobs()
	ctx := context.Background()
	data := []byte("pdf")
	require.NoError(t, b.Put(ctx, "k", data))
	data[0] = 'x'

	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf"), got)
	assert.Equal(t, []string{"k"}, b.Keys())

	require.NoError(t, b.Delete(ctx, "k"))
	_, err = b.Get(ctx, "k")
	assert.ErrorIs(t, err, signflow.ErrNotFound)
}
