package taskstore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "nested", "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateGetUpdate(t *testing.T) {
	s := openTemp(t)
	started := time.Now().Add(-time.Second)

	err := s.Create(Record{
		TaskID:      "t1",
		TaskType:    TaskTypeGenerateHashes,
		Status:      StatusRunning,
		TableName:   "orders",
		OutputTable: "orders_merkle",
		Algorithm:   "MD5",
		StartedAt:   started,
		TaskContext: map[string]any{"num_threads": 4},
	})
	require.NoError(t, err)

	require.NoError(t, s.Update(Record{
		TaskID:      "t1",
		Status:      StatusCompleted,
		RootHash:    "abcd",
		FinishedAt:  time.Now(),
		TimeTaken:   1.5,
		TaskContext: map[string]any{"leaves": 3},
	}))

	rec, err := s.Get("t1")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, rec.Status)
	require.Equal(t, "orders", rec.TableName)
	require.Equal(t, "orders_merkle", rec.OutputTable)
	require.Equal(t, "abcd", rec.RootHash)
	require.Equal(t, 1.5, rec.TimeTaken)
	require.EqualValues(t, 3, rec.TaskContext["leaves"])
	require.WithinDuration(t, started, rec.StartedAt, time.Millisecond)
}

func TestGetMissing(t *testing.T) {
	s := openTemp(t)
	_, err := s.Get("nope")
	require.True(t, errors.Is(err, ErrNotFound))
	require.True(t, errors.Is(s.Update(Record{TaskID: "nope", Status: StatusFailed}), ErrNotFound))
}

func TestCreateValidation(t *testing.T) {
	s := openTemp(t)
	require.Error(t, s.Create(Record{TaskType: TaskTypeRootHash, Status: StatusRunning}))
	require.Error(t, s.Create(Record{TaskID: "x", Status: StatusRunning}))
	require.Error(t, s.Create(Record{TaskID: "x", TaskType: TaskTypeRootHash}))
}

func TestListNewestFirst(t *testing.T) {
	s := openTemp(t)
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Create(Record{
			TaskID:    id,
			TaskType:  TaskTypeCompareTables,
			Status:    StatusCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	recs, err := s.List(2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "c", recs[0].TaskID)
	require.Equal(t, "b", recs[1].TaskID)
}

func TestRecorderWithoutCreateSkipsUpdate(t *testing.T) {
	rec, err := NewRecorder(nil, filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	require.True(t, rec.OwnsStore())
	require.NoError(t, rec.Update(Record{TaskID: "never-created", Status: StatusFailed}))
	require.False(t, rec.Created())
	require.NoError(t, rec.Close())
	require.False(t, rec.HasStore())
}
