package blobstore

import (
	"context"
	"fmt"
	"net/url"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

// NewS3 opens an auxiliary root backed by an Amazon S3 bucket, for
// fleets that keep a shared, pre-warmed mirror of popular images
// upstream of each node's local disk tier.
//
// If region is empty, the AWS SDK tries to infer it from
// environment/config; see https://pkg.go.dev/gocloud.dev/blob/s3blob
// for the full set of query-parameter options the bucket URL accepts.
func NewS3(ctx context.Context, bucket, region, prefix string) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("blobstore: bucket is required")
	}
	bucketURL := "s3://" + bucket
	if region != "" {
		bucketURL += "?region=" + url.QueryEscape(region)
	}
	return Open(ctx, bucketURL, prefix)
}

// NewGCS opens an auxiliary root backed by a Google Cloud Storage
// bucket, the same shared-mirror role NewS3 plays for S3-hosted
// fleets.
//
// Authentication is handled by application default credentials; see
// https://pkg.go.dev/gocloud.dev/blob/gcsblob.
func NewGCS(ctx context.Context, bucket, prefix string) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("blobstore: bucket is required")
	}
	bucketURL := "gs://" + bucket
	return Open(ctx, bucketURL, prefix)
}

// NewAzure opens an auxiliary root backed by an Azure Blob Storage
// container, the same shared-mirror role NewS3 plays for S3-hosted
// fleets.
//
// Authentication uses AZURE_STORAGE_ACCOUNT/AZURE_STORAGE_KEY or other
// Azure SDK credentials; see
// https://pkg.go.dev/gocloud.dev/blob/azureblob.
func NewAzure(ctx context.Context, container, prefix string) (*Store, error) {
	if container == "" {
		return nil, fmt.Errorf("blobstore: container is required")
	}
	bucketURL := "azblob://" + container
	return Open(ctx, bucketURL, prefix)
}
