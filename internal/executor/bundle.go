/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package executor

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/friendsincode/forgeplan/internal/dataset"
	"github.com/friendsincode/forgeplan/internal/models"
	"github.com/friendsincode/forgeplan/internal/normalize"
)

// loadBundle reassembles a dataset bundle from its stored files. Files
// merge in upload order, so later uploads of the same kind overwrite
// overlapping cells the same way they did at ingest time.
func (s *Service) loadBundle(ctx context.Context, datasetID string) (*dataset.Bundle, error) {
	var files []models.DatasetFile
	if err := s.db.WithContext(ctx).
		Where("dataset_id = ?", datasetID).
		Order("created_at ASC").
		Find(&files).Error; err != nil {
		return nil, fmt.Errorf("list dataset files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("dataset %s has no files", datasetID)
	}

	norm := normalize.New()
	bundle := dataset.NewBundle()
	for _, f := range files {
		data, err := s.store.Get(ctx, f.StorageKey)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", f.StorageKey, err)
		}

		kind := dataset.Kind(f.Kind)
		if strings.EqualFold(path.Ext(f.Filename), ".xlsx") {
			err = bundle.ReadXLSX(kind, bytes.NewReader(data), norm)
		} else {
			err = bundle.ReadCSV(kind, bytes.NewReader(data), norm)
		}
		if err != nil {
			return nil, fmt.Errorf("ingest %s: %w", f.Filename, err)
		}
	}

	return bundle, nil
}

// BundleFor exposes bundle loading for callers that need the parsed data
// without running a solve, such as the dataset preview endpoint.
func (s *Service) BundleFor(ctx context.Context, datasetID string) (*dataset.Bundle, error) {
	return s.loadBundle(ctx, datasetID)
}
