package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/keyanneal/internal/config"
	"github.com/cwbudde/keyanneal/internal/engine"
	"github.com/cwbudde/keyanneal/internal/layout"
)

// setupTestStore creates a temporary directory and returns an FSStore for testing.
func setupTestStore(t *testing.T) (*FSStore, string) {
	t.Helper()

	tempDir := t.TempDir()
	store, err := NewFSStore(tempDir)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	return store, tempDir
}

func testJobConfig() JobConfig {
	req := engine.DefaultRequest()
	req.Text = "the quick brown fox"
	req.Iterations = 1000
	req.NumRestarts = 2
	return JobConfig{Name: "qwerty", Request: req}
}

// createTestCheckpoint creates a checkpoint whose best layout is QWERTY with
// two keys swapped.
func createTestCheckpoint(jobID string) *Checkpoint {
	best := layout.QWERTY()
	qi, _ := best.Index('Q')
	ai, _ := best.Index('A')
	return &Checkpoint{
		JobID:        jobID,
		BestLayout:   best.Swap(qi, ai),
		BestScore:    812,
		InitialScore: 940,
		Iteration:    5000,
		Timestamp:    time.Now(),
		Config:       testJobConfig(),
	}
}

func TestNewFSStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	store, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	if store.BaseDir() != dir {
		t.Errorf("BaseDir = %s, expected %s", store.BaseDir(), dir)
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Fatal("Base directory was not created")
	}
}

func TestSaveCheckpoint(t *testing.T) {
	store, tempDir := setupTestStore(t)

	jobID := "test-job-123"
	if err := store.SaveCheckpoint(jobID, createTestCheckpoint(jobID)); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	expectedPath := filepath.Join(tempDir, "jobs", jobID, "checkpoint.json")
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Fatalf("Checkpoint file was not created at %s", expectedPath)
	}
	if _, err := os.Stat(expectedPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temp file was left behind")
	}
}

func TestSaveCheckpoint_WritesBestKeyboard(t *testing.T) {
	store, _ := setupTestStore(t)

	jobID := "kb-job"
	cp := createTestCheckpoint(jobID)
	if err := store.SaveCheckpoint(jobID, cp); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	kb, err := config.LoadKeyboard(store.BestKeyboardPath(jobID))
	if err != nil {
		t.Fatalf("LoadKeyboard failed: %v", err)
	}
	if kb.Name != "qwerty-best" {
		t.Errorf("Name = %q", kb.Name)
	}
	l, err := kb.Layout()
	if err != nil {
		t.Fatalf("Layout failed: %v", err)
	}
	if !l.Equal(cp.BestLayout) {
		t.Error("best.yaml does not hold the best layout")
	}
}

func TestSaveCheckpoint_EmptyJobID(t *testing.T) {
	store, _ := setupTestStore(t)

	if err := store.SaveCheckpoint("", createTestCheckpoint("x")); err == nil {
		t.Error("Expected error for empty jobID")
	}
}

func TestSaveCheckpoint_NilCheckpoint(t *testing.T) {
	store, _ := setupTestStore(t)

	if err := store.SaveCheckpoint("job", nil); err == nil {
		t.Error("Expected error for nil checkpoint")
	}
}

func TestSaveCheckpoint_Overwrite(t *testing.T) {
	store, _ := setupTestStore(t)

	jobID := "overwrite-job"
	first := createTestCheckpoint(jobID)
	if err := store.SaveCheckpoint(jobID, first); err != nil {
		t.Fatalf("First save failed: %v", err)
	}

	second := createTestCheckpoint(jobID)
	second.BestScore = 700
	second.Iteration = 9000
	if err := store.SaveCheckpoint(jobID, second); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	loaded, err := store.LoadCheckpoint(jobID)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if loaded.BestScore != 700 || loaded.Iteration != 9000 {
		t.Errorf("Expected overwritten values, got score=%v iteration=%d", loaded.BestScore, loaded.Iteration)
	}
}

func TestLoadCheckpoint(t *testing.T) {
	store, _ := setupTestStore(t)

	jobID := "load-job"
	original := createTestCheckpoint(jobID)
	if err := store.SaveCheckpoint(jobID, original); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	loaded, err := store.LoadCheckpoint(jobID)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}

	if loaded.JobID != original.JobID {
		t.Errorf("JobID = %s, expected %s", loaded.JobID, original.JobID)
	}
	if !loaded.BestLayout.Equal(original.BestLayout) {
		t.Error("BestLayout changed across save/load")
	}
	if loaded.BestScore != original.BestScore || loaded.InitialScore != original.InitialScore {
		t.Errorf("Scores changed: %v/%v", loaded.BestScore, loaded.InitialScore)
	}
	if loaded.Config.Request.Text != original.Config.Request.Text {
		t.Errorf("Text changed: %q", loaded.Config.Request.Text)
	}
	if loaded.Config.Request.FingerAssignments["Q"] != layout.LeftPinky {
		t.Error("Finger assignments lost")
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("Loaded checkpoint does not validate: %v", err)
	}
}

func TestLoadCheckpoint_NotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.LoadCheckpoint("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestLoadCheckpoint_EmptyJobID(t *testing.T) {
	store, _ := setupTestStore(t)

	if _, err := store.LoadCheckpoint(""); err == nil {
		t.Error("Expected error for empty jobID")
	}
}

func TestLoadCheckpoint_Corrupted(t *testing.T) {
	store, tempDir := setupTestStore(t)

	dir := filepath.Join(tempDir, "jobs", "bad")
	os.MkdirAll(dir, 0755)
	os.WriteFile(filepath.Join(dir, "checkpoint.json"), []byte(`{"bestLayout": {"A": [0,0], "B": [0,0]}}`), 0644)

	if _, err := store.LoadCheckpoint("bad"); err == nil {
		t.Error("Expected error for duplicate positions in stored layout")
	}
}

func TestListCheckpoints_Empty(t *testing.T) {
	store, _ := setupTestStore(t)

	infos, err := store.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("Expected no checkpoints, got %d", len(infos))
	}
}

func TestListCheckpoints_Multiple(t *testing.T) {
	store, _ := setupTestStore(t)

	base := time.Now()
	for i := 0; i < 3; i++ {
		jobID := fmt.Sprintf("job-%d", i)
		cp := createTestCheckpoint(jobID)
		cp.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if err := store.SaveCheckpoint(jobID, cp); err != nil {
			t.Fatalf("SaveCheckpoint %d failed: %v", i, err)
		}
	}

	infos, err := store.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("Expected 3 checkpoints, got %d", len(infos))
	}
	// Newest first
	if infos[0].JobID != "job-2" || infos[2].JobID != "job-0" {
		t.Errorf("Unexpected order: %s, %s, %s", infos[0].JobID, infos[1].JobID, infos[2].JobID)
	}
}

func TestListCheckpoints_SkipsInvalidDirectories(t *testing.T) {
	store, tempDir := setupTestStore(t)

	if err := store.SaveCheckpoint("good", createTestCheckpoint("good")); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	jobsDir := filepath.Join(tempDir, "jobs")
	os.MkdirAll(filepath.Join(jobsDir, "empty"), 0755)
	os.MkdirAll(filepath.Join(jobsDir, "corrupt"), 0755)
	os.WriteFile(filepath.Join(jobsDir, "corrupt", "checkpoint.json"), []byte("{not json"), 0644)
	os.WriteFile(filepath.Join(jobsDir, "stray.txt"), []byte("x"), 0644)

	infos, err := store.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(infos) != 1 || infos[0].JobID != "good" {
		t.Errorf("Expected only the good checkpoint, got %+v", infos)
	}
}

func TestDeleteCheckpoint(t *testing.T) {
	store, tempDir := setupTestStore(t)

	jobID := "delete-job"
	if err := store.SaveCheckpoint(jobID, createTestCheckpoint(jobID)); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	tw, err := NewTraceWriter(tempDir, jobID, false)
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}
	tw.Write(TraceEntry{Kind: "cooling", Score: 1, Timestamp: time.Now()})
	tw.Close()

	if err := store.DeleteCheckpoint(jobID); err != nil {
		t.Fatalf("DeleteCheckpoint failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(tempDir, "jobs", jobID)); !os.IsNotExist(err) {
		t.Error("Job directory still exists after delete")
	}
	if _, err := store.LoadCheckpoint(jobID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestDeleteCheckpoint_NotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	if err := store.DeleteCheckpoint("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDeleteCheckpoint_EmptyJobID(t *testing.T) {
	store, _ := setupTestStore(t)

	if err := store.DeleteCheckpoint(""); err == nil {
		t.Error("Expected error for empty jobID")
	}
}

func TestConcurrentSave(t *testing.T) {
	store, _ := setupTestStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			jobID := fmt.Sprintf("concurrent-%d", i)
			if err := store.SaveCheckpoint(jobID, createTestCheckpoint(jobID)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent save failed: %v", err)
	}

	infos, err := store.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(infos) != 10 {
		t.Errorf("Expected 10 checkpoints, got %d", len(infos))
	}
}
