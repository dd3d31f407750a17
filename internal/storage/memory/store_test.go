package memory

import (
	"testing"

	"task-router/internal/storage"
	"task-router/internal/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return New()
	})
}

func TestFactoryRegistered(t *testing.T) {
	s, err := storage.Create("memory", storage.GenericConfig{"type": "memory"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, ok := s.(*Store); !ok {
		t.Errorf("Create() returned %T, want *Store", s)
	}
}
