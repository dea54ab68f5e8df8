package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"price-aggregator/internal/models"
)

// File writes the latest result to one JSON file and keeps a per-job copy beside it.
type File struct {
	latestPath string
	dir        string
}

// NewFile uses latestPath (e.g. results/final-result.json) as the shared slot.
func NewFile(latestPath string) *File {
	return &File{latestPath: latestPath, dir: filepath.Dir(latestPath)}
}

func (f *File) Write(_ context.Context, result models.AggregateResult) error {
	body, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create dirs: %w", err)
	}
	if result.JobID != "" {
		if err := writeAtomic(f.jobPath(result.JobID), body); err != nil {
			return err
		}
	}
	return writeAtomic(f.latestPath, body)
}

func (f *File) ReadLatest(_ context.Context) (models.AggregateResult, error) {
	return readJSON(f.latestPath)
}

func (f *File) Read(_ context.Context, jobID string) (models.AggregateResult, error) {
	if strings.TrimSpace(jobID) == "" || strings.ContainsAny(jobID, `/\`) {
		return models.AggregateResult{}, ErrNotFound
	}
	return readJSON(f.jobPath(jobID))
}

func (f *File) jobPath(jobID string) string {
	return filepath.Join(f.dir, jobID+".json")
}

// writeAtomic replaces path via a temp file so readers never see a partial result.
func writeAtomic(path string, body []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".result-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

func readJSON(path string) (models.AggregateResult, error) {
	body, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return models.AggregateResult{}, ErrNotFound
	}
	if err != nil {
		return models.AggregateResult{}, fmt.Errorf("read result: %w", err)
	}
	var res models.AggregateResult
	if err := json.Unmarshal(body, &res); err != nil {
		return models.AggregateResult{}, fmt.Errorf("decode result: %w", err)
	}
	return res, nil
}
