// Package journal appends detection metadata to a lode dataset on the local
// filesystem or S3. Records are JSONL, Hive-partitioned by
// hostname/day/detector. Frames are never written.
package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// DefaultDataset is the lode dataset ID.
const DefaultDataset = "tagstream"

// partitionKeys is the Hive layout shared by the write and read paths.
var partitionKeys = []string{"hostname", "day", "detector"}

// Store persists record batches.
type Store interface {
	Write(ctx context.Context, records []Record) error
	Close() error
}

// LodeStore writes records into a lode dataset.
type LodeStore struct {
	dataset lode.Dataset
	id      string
}

// NewDataset opens the journal dataset over a store factory.
// Use lode.NewMemoryFactory() in tests.
func NewDataset(id string, factory lode.StoreFactory) (lode.Dataset, error) {
	if id == "" {
		id = DefaultDataset
	}
	return lode.NewDataset(
		lode.DatasetID(id),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// NewLodeStore creates a store over a custom factory.
func NewLodeStore(id string, factory lode.StoreFactory) (*LodeStore, error) {
	ds, err := NewDataset(id, factory)
	if err != nil {
		return nil, wrap("init", id, err)
	}
	return &LodeStore{dataset: ds, id: id}, nil
}

// NewFSStore creates a store rooted at a local directory.
func NewFSStore(id, root string) (*LodeStore, error) {
	if root == "" {
		return nil, errors.New("journal directory is required")
	}
	return NewLodeStore(id, lode.NewFSFactory(root))
}

// S3Config locates the journal in a bucket.
type S3Config struct {
	Bucket string
	Prefix string
	// Region overrides the default credential chain's region.
	Region string
	// Endpoint targets S3-compatible providers (MinIO, R2).
	Endpoint string
	// UsePathStyle is required by most S3-compatible providers.
	UsePathStyle bool
}

// Validate checks required fields.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// ParseS3Path splits "bucket/prefix" into its parts.
func ParseS3Path(path string) (bucket, prefix string) {
	path = strings.TrimPrefix(path, "s3://")
	bucket, prefix, _ = strings.Cut(path, "/")
	return bucket, prefix
}

// S3Factory builds a lode store factory over S3 using the AWS default
// credential chain.
func S3Factory(ctx context.Context, cfg S3Config) (lode.StoreFactory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, wrap("init", cfg.Bucket, fmt.Errorf("load AWS config: %w", err))
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsConfig, s3Opts...)

	return func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{
			Bucket: cfg.Bucket,
			Prefix: cfg.Prefix,
		})
	}, nil
}

// NewS3Store creates a store in an S3 bucket.
func NewS3Store(ctx context.Context, id string, cfg S3Config) (*LodeStore, error) {
	factory, err := S3Factory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewLodeStore(id, factory)
}

// Write appends one batch as a single dataset snapshot.
func (s *LodeStore) Write(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]any, len(records))
	for i, r := range records {
		rows[i] = r.toMap()
	}
	if _, err := s.dataset.Write(ctx, rows, lode.Metadata{}); err != nil {
		return wrap("write", s.id, err)
	}
	return nil
}

// Dataset returns the underlying dataset for reads.
func (s *LodeStore) Dataset() lode.Dataset {
	return s.dataset
}

// Close releases store resources.
func (s *LodeStore) Close() error {
	return nil
}

// Query reads every detection record in the dataset, oldest snapshot first,
// optionally filtered by hostname and detector.
func Query(ctx context.Context, ds lode.Dataset, hostname, detector string) ([]map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, wrap("read", string(ds.ID()), err)
	}

	var out []map[string]any
	for _, snap := range snapshots {
		if !snapshotMatches(snap, "hostname", hostname) || !snapshotMatches(snap, "detector", detector) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, wrap("read", fmt.Sprintf("%s/%s", ds.ID(), snap.ID), err)
		}
		for _, item := range data {
			rec, ok := item.(map[string]any)
			if !ok || rec["record_kind"] != RecordKindDetection {
				continue
			}
			if hostname != "" && rec["hostname"] != hostname {
				continue
			}
			if detector != "" && rec["detector"] != detector {
				continue
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

// snapshotMatches is a coarse pre-filter on Hive path segments; record
// fields are authoritative.
func snapshotMatches(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	segment := key + "=" + value
	for _, f := range snap.Manifest.Files {
		for _, part := range strings.Split(f.Path, "/") {
			if part == segment {
				return true
			}
		}
	}
	return false
}
