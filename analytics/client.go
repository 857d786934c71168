package analytics

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"

	"github.com/justapithecus/cascadewatch/types"
)

// LodeClient is the bulk-storage-backed implementation of Client, using
// Hive partition keys source/category/day/run_id/record_kind.
type LodeClient struct {
	dataset lode.Dataset
}

// NewFSClient creates a LodeClient writing Hive-partitioned files under root.
func NewFSClient(dataset, root string) (*LodeClient, error) {
	return newLodeClient(dataset, lode.NewFSFactory(root))
}

// S3Config holds the S3 backend parameters for bulk export.
type S3Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	UsePathStyle bool
}

// NewS3Client creates a LodeClient writing Hive-partitioned objects to S3
// (or an S3-compatible endpoint). Uses the AWS SDK default credential
// chain (env vars, shared config, IAM role).
func NewS3Client(ctx context.Context, dataset string, s3cfg S3Config) (*LodeClient, error) {
	var opts []func(*config.LoadOptions) error
	if s3cfg.Region != "" {
		opts = append(opts, config.WithRegion(s3cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	var s3Opts []func(*s3.Options)
	if s3cfg.Endpoint != "" {
		endpoint := s3cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = &endpoint })
	}
	if s3cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	s3Client := s3.NewFromConfig(awsCfg, s3Opts...)

	factory := func() (lode.Store, error) {
		return lodes3.New(s3Client, lodes3.Config{Bucket: s3cfg.Bucket, Prefix: s3cfg.Prefix})
	}
	return newLodeClient(dataset, factory)
}

func newLodeClient(dataset string, factory lode.StoreFactory) (*LodeClient, error) {
	ds, err := lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout("source", "category", "day", "run_id", "record_kind"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, err
	}
	return &LodeClient{dataset: ds}, nil
}

// WriteCandidates implements Client.
func (c *LodeClient) WriteCandidates(ctx context.Context, _ string, cfg Config, candidates []types.Candidate) error {
	if len(candidates) == 0 {
		return nil
	}
	records := make([]any, 0, len(candidates))
	for _, cand := range candidates {
		records = append(records, toCandidateRecordMap(cand, cfg))
	}
	_, err := c.dataset.Write(ctx, records, lode.Metadata{})
	return err
}

// WriteDecisions implements Client.
func (c *LodeClient) WriteDecisions(ctx context.Context, _ string, cfg Config, decisions []types.Decision) error {
	if len(decisions) == 0 {
		return nil
	}
	records := make([]any, 0, len(decisions))
	for _, d := range decisions {
		records = append(records, toDecisionRecordMap(d, cfg))
	}
	_, err := c.dataset.Write(ctx, records, lode.Metadata{})
	return err
}

// WriteFinalEvents implements Client.
func (c *LodeClient) WriteFinalEvents(ctx context.Context, _ string, cfg Config, events []types.FinalEvent) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]any, 0, len(events))
	for _, e := range events {
		records = append(records, toFinalEventRecordMap(e, cfg))
	}
	_, err := c.dataset.Write(ctx, records, lode.Metadata{})
	return err
}

// Close releases client resources. The dataset does not hold its own
// handle beyond the store factory.
func (c *LodeClient) Close() error {
	return nil
}

var _ Client = (*LodeClient)(nil)
