// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package backfill

import (
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

const (
	statusDirPerm  = 0o700
	statusFilePerm = 0o600
)

// StatusPath returns the canonical status file location under dataRoot.
func StatusPath(dataRoot string) string {
	return filepath.Join(dataRoot, ".mdc", "backfill_status.json")
}

// WriteStatus persists the result of the most recent backfill run. The
// file survives restarts so operators can inspect the last outcome.
func WriteStatus(path string, res Result) error {
	if err := os.MkdirAll(filepath.Dir(path), statusDirPerm); err != nil {
		return fmt.Errorf("create status directory: %w", err)
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := os.WriteFile(path, data, statusFilePerm); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}

// ReadStatus loads the persisted result of the last backfill run. It
// returns os.ErrNotExist (wrapped) when no run has been persisted yet.
func ReadStatus(path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read status: %w", err)
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return Result{}, fmt.Errorf("parse status: %w", err)
	}
	return res, nil
}
