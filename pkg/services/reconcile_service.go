package services

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/spf13/afero"

	"github.com/TFMV/arbor/pkg/errors"
	"github.com/TFMV/arbor/pkg/infrastructure/metrics"
	"github.com/TFMV/arbor/pkg/infrastructure/objectstore"
	"github.com/TFMV/arbor/pkg/repositories"
)

// DefaultMinFreeSpace is the disk headroom kept free by downloads.
const DefaultMinFreeSpace uint64 = 1024 * 1024

// Sync outcomes, used as the metric label.
const (
	outcomeDownloaded = "downloaded"
	outcomeUploaded   = "uploaded"
	outcomeSkipped    = "skipped"
	outcomeMissing    = "missing"
	outcomeFailed     = "failed"
)

// ObjectStore is the bucket storage the reconciler works against.
type ObjectStore interface {
	Stat(ctx context.Context, bucket, key string) (objectstore.ObjectInfo, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error
}

// FreeSpaceFunc reports the free bytes of the filesystem holding path.
type FreeSpaceFunc func(path string) (uint64, error)

// DiskFreeSpace reads free space from the operating system.
func DiskFreeSpace(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// SyncConfig configures a Reconciler.
type SyncConfig struct {
	Buckets      []string
	FSRoot       string
	MinFreeSpace uint64
}

// SyncStats counts what a reconciliation did per file.
type SyncStats struct {
	Downloaded int `json:"downloaded"`
	Uploaded   int `json:"uploaded"`
	Skipped    int `json:"skipped"`
	Missing    int `json:"missing"`
	Failed     int `json:"failed"`
}

// Reconciler keeps the local photo tree and the buckets in step with the
// file table.
type Reconciler struct {
	config    SyncConfig
	files     repositories.FileRepository
	store     ObjectStore
	fs        afero.Fs
	freeSpace FreeSpaceFunc
	logger    Logger
	metrics   MetricsCollector
}

// ReconcilerOption customises a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithFs replaces the local filesystem.
func WithFs(fs afero.Fs) ReconcilerOption {
	return func(r *Reconciler) { r.fs = fs }
}

// WithFreeSpace replaces the free space probe.
func WithFreeSpace(fn FreeSpaceFunc) ReconcilerOption {
	return func(r *Reconciler) { r.freeSpace = fn }
}

// NewReconciler creates a reconciler over the OS filesystem.
func NewReconciler(config SyncConfig, files repositories.FileRepository, store ObjectStore, logger Logger, collector MetricsCollector, opts ...ReconcilerOption) (*Reconciler, error) {
	if files == nil || store == nil {
		return nil, errors.New(errors.CodeInvalidArgument, "file source and object store are required")
	}
	if len(config.Buckets) == 0 {
		return nil, errors.New(errors.CodeInvalidArgument, "at least one bucket is required")
	}
	if config.FSRoot == "" {
		return nil, errors.New(errors.CodeInvalidArgument, "filesystem root is required")
	}
	if logger == nil {
		logger = nopLogger{}
	}
	if collector == nil {
		collector = nopMetrics{}
	}
	r := &Reconciler{
		config:    config,
		files:     files,
		store:     store,
		fs:        afero.NewOsFs(),
		freeSpace: DiskFreeSpace,
		logger:    logger,
		metrics:   collector,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Sync walks every file row once. Failing to list the rows is fatal; a
// failure on one file is logged, counted and skipped.
func (r *Reconciler) Sync(ctx context.Context) (SyncStats, error) {
	var stats SyncStats

	files, err := r.files.Files(ctx)
	if err != nil {
		return stats, err
	}
	r.logger.Info("Reconciling files", "files", len(files), "buckets", r.config.Buckets)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		outcome, err := r.syncOne(ctx, f.URL)
		if err != nil {
			r.logger.Error("File sync failed", "url", f.URL, "error", err)
			outcome = outcomeFailed
		}
		r.metrics.IncrementCounter(metrics.MetricSyncObjects, "outcome", outcome)

		switch outcome {
		case outcomeDownloaded:
			stats.Downloaded++
		case outcomeUploaded:
			stats.Uploaded++
		case outcomeSkipped:
			stats.Skipped++
		case outcomeMissing:
			stats.Missing++
		default:
			stats.Failed++
		}
	}

	r.logger.Info("Reconciliation complete",
		"downloaded", stats.Downloaded,
		"uploaded", stats.Uploaded,
		"skipped", stats.Skipped,
		"missing", stats.Missing,
		"failed", stats.Failed)
	return stats, nil
}

// LocalPath returns <fs_root>/<bucket>/<url> with leading slashes of url
// dropped. A url or bucket resolving outside its directory is an
// InvalidArgument error.
func (r *Reconciler) LocalPath(bucket, url string) (string, error) {
	dir := filepath.Join(r.config.FSRoot, bucket)
	local := filepath.Join(dir, strings.TrimLeft(url, "/"))
	if !within(r.config.FSRoot, dir) || !within(dir, local) || local == dir {
		return "", errors.Newf(errors.CodeInvalidArgument, "path %q escapes %s", url, dir).
			WithDetail("bucket", bucket)
	}
	return local, nil
}

// within reports whether path is parent or lies below it.
func within(parent, path string) bool {
	rel, err := filepath.Rel(parent, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (r *Reconciler) syncOne(ctx context.Context, url string) (string, error) {
	paths := make(map[string]string, len(r.config.Buckets))
	for _, b := range r.config.Buckets {
		local, err := r.LocalPath(b, url)
		if err != nil {
			return "", err
		}
		paths[b] = local
	}

	bucket, info, err := r.locate(ctx, url)
	if err != nil {
		return "", err
	}

	if bucket != "" {
		local := paths[bucket]
		exists, err := afero.Exists(r.fs, local)
		if err != nil {
			return "", errors.Wrapf(err, errors.CodeInternal, "failed to check %s", local)
		}
		if exists {
			r.logger.Debug("File already present", "url", url, "path", local)
			return outcomeSkipped, nil
		}
		if err := r.download(ctx, info, local); err != nil {
			return "", err
		}
		return outcomeDownloaded, nil
	}

	for _, b := range r.config.Buckets {
		local := paths[b]
		exists, err := afero.Exists(r.fs, local)
		if err != nil || !exists {
			continue
		}
		if err := r.upload(ctx, b, url, local); err != nil {
			r.logger.Warn("Upload failed", "bucket", b, "url", url, "error", err)
			continue
		}
		return outcomeUploaded, nil
	}

	r.logger.Warn("File found in no bucket and no local directory", "url", url)
	return outcomeMissing, nil
}

// locate returns the first bucket holding url, or an empty bucket name.
func (r *Reconciler) locate(ctx context.Context, url string) (string, objectstore.ObjectInfo, error) {
	for _, b := range r.config.Buckets {
		info, err := r.store.Stat(ctx, b, url)
		if err == nil {
			return b, info, nil
		}
		if !errors.IsNotFound(err) {
			return "", objectstore.ObjectInfo{}, err
		}
	}
	return "", objectstore.ObjectInfo{}, nil
}

func (r *Reconciler) download(ctx context.Context, info objectstore.ObjectInfo, local string) error {
	if info.Size <= 0 {
		return errors.Newf(errors.CodeInternal, "object %s/%s is empty", info.Bucket, info.Key)
	}

	dir := filepath.Dir(local)
	if err := r.fs.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "failed to create %s", dir)
	}

	free, err := r.freeSpace(dir)
	if err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "failed to read free space of %s", dir)
	}
	required := uint64(info.Size) + r.config.MinFreeSpace
	if free < required {
		return errors.Newf(errors.CodeInternal, "not enough disk space for %s", info.Key).
			WithDetail("required", required).
			WithDetail("free", free)
	}

	src, err := r.store.Get(ctx, info.Bucket, info.Key)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := r.fs.OpenFile(local, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "failed to create %s", local)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = r.fs.Remove(local)
		return errors.Wrapf(err, errors.CodeInternal, "failed to download %s/%s", info.Bucket, info.Key)
	}
	if err := dst.Close(); err != nil {
		_ = r.fs.Remove(local)
		return errors.Wrapf(err, errors.CodeInternal, "failed to write %s", local)
	}

	r.logger.Info("Downloaded file", "bucket", info.Bucket, "url", info.Key, "path", local)
	return nil
}

func (r *Reconciler) upload(ctx context.Context, bucket, url, local string) error {
	f, err := r.fs.Open(local)
	if err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "failed to open %s", local)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "failed to stat %s", local)
	}
	if err := r.store.Put(ctx, bucket, url, f, st.Size()); err != nil {
		return err
	}

	r.logger.Info("Uploaded file", "bucket", bucket, "url", url, "path", local)
	return nil
}
