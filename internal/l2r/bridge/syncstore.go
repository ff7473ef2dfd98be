package bridge

import (
	"context"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/l2r/internal/l2r/kv"
)

var _ mautrix.SyncStore = (*kvSyncStore)(nil)

// kvSyncStore persists the Matrix sync position under matrix.<user>.* keys
// so a restart resumes instead of replaying room history.
type kvSyncStore struct {
	store kv.Store
}

func syncKey(userID id.UserID, name string) string {
	return "matrix." + userID.String() + "." + name
}

func (s *kvSyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return kv.Save(ctx, s.store, syncKey(userID, "filter_id"), filterID)
}

func (s *kvSyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.load(ctx, syncKey(userID, "filter_id"))
}

func (s *kvSyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return kv.Save(ctx, s.store, syncKey(userID, "next_batch"), nextBatchToken)
}

func (s *kvSyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.load(ctx, syncKey(userID, "next_batch"))
}

func (s *kvSyncStore) load(ctx context.Context, key string) (string, error) {
	var v string
	if _, err := kv.Load(ctx, s.store, key, &v); err != nil {
		return "", err
	}
	return v, nil
}
