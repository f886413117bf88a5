// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSCatalogSource reads a YAML catalog object from Google Cloud Storage.
//
// Description:
//
//	Lets a fleet of daemons share one catalog file. The client is created
//	per fetch so credentials rotate with the environment.
type GCSCatalogSource struct {
	Bucket string
	Object string
	Opts   []option.ClientOption
}

// ParseGCSURI builds a source from "gs://bucket/path/to/catalog.yaml".
func ParseGCSURI(uri string, opts ...option.ClientOption) (*GCSCatalogSource, error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return nil, fmt.Errorf("gcs catalog uri must start with gs://: %q", uri)
	}
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return nil, fmt.Errorf("gcs catalog uri needs bucket and object: %q", uri)
	}
	return &GCSCatalogSource{Bucket: bucket, Object: object, Opts: opts}, nil
}

// Name implements CatalogSource.
func (s *GCSCatalogSource) Name() string {
	return "gs://" + s.Bucket + "/" + s.Object
}

// Fetch implements CatalogSource.
func (s *GCSCatalogSource) Fetch(ctx context.Context) (Catalog, error) {
	client, err := storage.NewClient(ctx, s.Opts...)
	if err != nil {
		return Catalog{}, fmt.Errorf("gcs client: %w", err)
	}
	defer client.Close()

	rd, err := client.Bucket(s.Bucket).Object(s.Object).NewReader(ctx)
	if err != nil {
		return Catalog{}, fmt.Errorf("open %s: %w", s.Name(), err)
	}
	defer rd.Close()

	data, err := io.ReadAll(io.LimitReader(rd, maxCatalogBytes+1))
	if err != nil {
		return Catalog{}, fmt.Errorf("read %s: %w", s.Name(), err)
	}
	return decodeYAMLCatalog(data)
}
