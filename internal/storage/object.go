/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package storage persists dataset files and run artifacts (LP files,
// solver logs, exported reports) behind a small object-store interface.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// ObjectStore abstracts object storage operations.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	CheckAccess(ctx context.Context) error
}

// Well-known key prefixes.
const (
	PrefixDatasets = "datasets/" // + dataset_id/filename
	PrefixRuns     = "runs/"     // + run_id/artifact
	PrefixSweeps   = "sweeps/"   // + sweep_id/artifact
)

// DatasetKey builds the object key for an uploaded dataset file.
func DatasetKey(datasetID, filename string) string {
	return PrefixDatasets + datasetID + "/" + filename
}

// RunArtifactKey builds the object key for a run artifact such as the
// LP file or the raw solver output.
func RunArtifactKey(runID, name string) string {
	return PrefixRuns + runID + "/" + name
}

// SweepArtifactKey builds the object key for a sweep artifact such as
// the exported results CSV.
func SweepArtifactKey(sweepID, name string) string {
	return PrefixSweeps + sweepID + "/" + name
}
