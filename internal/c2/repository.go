package c2

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/secchiware/secchiware/pkg/broker"
	"github.com/secchiware/secchiware/pkg/testpkg"
)

// Repository is the C2's master test-package tree: a local directory (read
// by the same testpkg.Discover loader a Node uses) plus a MinIO archive of
// every bundle ever accepted via PATCH /test_sets, giving an audit trail a
// bad push can be recovered from. Grounded on the teacher's own MinIO usage
// in pkg/storage/persistent/store.go, repurposed from scan artifacts to
// bundle versions.
type Repository struct {
	root     string
	registry *testpkg.Registry
	minio    *minio.Client
	bucket   string
	broker   broker.Broker
	logger   *slog.Logger
}

func NewRepository(root, minioEndpoint, accessKey, secretKey, bucket string, useSSL bool, b broker.Broker, logger *slog.Logger) (*Repository, error) {
	client, err := minio.New(minioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("c2: initializing minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("c2: checking bucket %q: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("c2: creating bucket %q: %w", bucket, err)
		}
	}

	registry := testpkg.NewRegistry()
	if err := registry.ReloadFromDisk(root); err != nil {
		logger.Warn("c2: initial repository load failed, starting empty", slog.String("error", err.Error()))
	}

	return &Repository{root: root, registry: registry, minio: client, bucket: bucket, broker: b, logger: logger}, nil
}

func (r *Repository) Tree() *testpkg.Tree {
	return r.registry.Load()
}

func repoLockName(pkg string) string {
	return "repository:" + pkg + ":mutex"
}

// Install unpacks a bundle into the repository, archives the raw bytes to
// MinIO keyed by package/timestamp, and reloads the in-memory registry.
// Each affected top-level package name is serialized with its own broker
// mutex, per spec §4.4's "mutation of the repository for a given root
// package name" concurrency rule.
func (r *Repository) Install(ctx context.Context, bundle []byte) ([]string, error) {
	names, err := testpkg.UnpackBundle(bytes.NewReader(bundle), r.root)
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		lockErr := r.withPackageLock(ctx, name, func() error {
			key := fmt.Sprintf("%s/%d.tar.gz", name, time.Now().UnixNano())
			_, err := r.minio.PutObject(ctx, r.bucket, key, bytes.NewReader(bundle), int64(len(bundle)), minio.PutObjectOptions{
				ContentType: "application/gzip",
			})
			if err != nil {
				r.logger.Warn("c2: failed to archive bundle to minio", slog.String("package", name), slog.String("error", err.Error()))
			}
			return nil
		})
		if lockErr != nil {
			return nil, lockErr
		}
	}

	if err := r.registry.ReloadFromDisk(r.root); err != nil {
		return nil, fmt.Errorf("c2: reloading repository after install: %w", err)
	}
	return names, nil
}

// ErrPackageNotFound is returned by Delete when pkg does not exist in the
// repository.
var ErrPackageNotFound = fmt.Errorf("c2: package not found in repository")

// Delete removes a top-level package from the repository tree and reloads
// the in-memory registry. The MinIO archive is left untouched: it is a
// version history, not a mirror of the live tree.
func (r *Repository) Delete(ctx context.Context, pkg string) error {
	tree := r.registry.Load()
	if _, ok := tree.Packages[pkg]; !ok {
		return ErrPackageNotFound
	}
	return r.withPackageLock(ctx, pkg, func() error {
		dir := filepath.Join(r.root, pkg)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("c2: removing package %q: %w", pkg, err)
		}
		return r.registry.ReloadFromDisk(r.root)
	})
}

func (r *Repository) withPackageLock(ctx context.Context, pkg string, fn func() error) error {
	name := repoLockName(pkg)
	token, err := r.broker.Acquire(ctx, name, 10*time.Second)
	if err != nil {
		return fmt.Errorf("c2: acquiring repository lock for %q: %w", pkg, err)
	}
	defer r.broker.Release(ctx, name, token)
	return fn()
}
