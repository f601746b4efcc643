package mock

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CheckpointStore keeps checkpoints in a map. It implements replication.CheckpointStore.
type CheckpointStore struct {
	mu     sync.Mutex
	values map[string]primitive.Timestamp
	saves  int

	// SaveErr, when set, is called on every Save. A non-nil result fails the call.
	SaveErr func(key string, ts primitive.Timestamp) error
	LoadErr error
}

func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{values: map[string]primitive.Timestamp{}}
}

func (s *CheckpointStore) Load(_ context.Context, key string) (primitive.Timestamp, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return primitive.Timestamp{}, false, s.LoadErr
	}
	ts, ok := s.values[key]
	return ts, ok, nil
}

func (s *CheckpointStore) Save(_ context.Context, key string, ts primitive.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		if err := s.SaveErr(key, ts); err != nil {
			return err
		}
	}
	s.saves++
	s.values[key] = ts
	return nil
}

func (s *CheckpointStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Get returns the checkpoint stored under key.
func (s *CheckpointStore) Get(key string) (primitive.Timestamp, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.values[key]
	return ts, ok
}

// Saves returns the number of successful Save calls.
func (s *CheckpointStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
