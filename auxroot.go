package imagecache

import (
	"context"
	"fmt"

	"github.com/ankur-anand/imagecache/blobstore"
	"github.com/ankur-anand/imagecache/diskcache"
)

// AuxRootKind selects which gocloud.dev/blob driver a CloudAuxRootSpec
// opens through blobstore.
type AuxRootKind int

const (
	AuxRootFile AuxRootKind = iota
	AuxRootS3
	AuxRootGCS
	AuxRootAzure
)

// CloudAuxRootSpec describes one read-only fallback disk root to open
// declaratively, instead of constructing a blobstore.Store by hand.
// A fleet that keeps a shared, pre-warmed mirror of popular images in
// a bucket upstream of each node's local disk tier configures one of
// these per mirror.
type CloudAuxRootSpec struct {
	Kind AuxRootKind
	// Bucket names the S3/GCS bucket or Azure container; for
	// AuxRootFile it is the local directory path.
	Bucket string
	// Region is consulted only for AuxRootS3; empty lets the AWS SDK
	// infer it from environment/config.
	Region string
	Prefix string
}

// Open resolves spec into a diskcache.AuxRoot by opening the
// corresponding blobstore.Store.
func (spec CloudAuxRootSpec) Open(ctx context.Context) (diskcache.AuxRoot, error) {
	var (
		store *blobstore.Store
		err   error
	)
	switch spec.Kind {
	case AuxRootFile:
		store, err = blobstore.NewFile(ctx, spec.Bucket, spec.Prefix)
	case AuxRootS3:
		store, err = blobstore.NewS3(ctx, spec.Bucket, spec.Region, spec.Prefix)
	case AuxRootGCS:
		store, err = blobstore.NewGCS(ctx, spec.Bucket, spec.Prefix)
	case AuxRootAzure:
		store, err = blobstore.NewAzure(ctx, spec.Bucket, spec.Prefix)
	default:
		return diskcache.AuxRoot{}, fmt.Errorf("imagecache: unknown aux root kind %d", spec.Kind)
	}
	if err != nil {
		return diskcache.AuxRoot{}, err
	}
	return diskcache.AuxRoot{Store: store}, nil
}

// openCloudAuxRoots resolves each spec in order. If any spec fails to
// open, the roots already opened are closed before returning the
// error, so NewCache never leaks a half-constructed chain of buckets.
func openCloudAuxRoots(ctx context.Context, specs []CloudAuxRootSpec) ([]diskcache.AuxRoot, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	roots := make([]diskcache.AuxRoot, 0, len(specs))
	for _, spec := range specs {
		root, err := spec.Open(ctx)
		if err != nil {
			for _, opened := range roots {
				opened.Store.Close()
			}
			return nil, fmt.Errorf("imagecache: open aux root: %w", err)
		}
		roots = append(roots, root)
	}
	return roots, nil
}
