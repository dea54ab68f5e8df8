package store

import (
	"context"
	"errors"
	"fmt"

	"price-aggregator/internal/config"
	"price-aggregator/internal/sink"
)

// OpenSink returns the result sink selected by RESULT_SINK. The *Store is non-nil only for the
// postgres sink, where it also serves the audit trail. Call close when done.
func OpenSink(ctx context.Context, cfg config.Config) (sink.Sink, *Store, func(), error) {
	switch cfg.ResultSink {
	case "", "postgres":
		st, err := New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := st.RunMigrations(ctx); err != nil {
			st.Close()
			return nil, nil, nil, fmt.Errorf("migrations: %w", err)
		}
		return st, st, st.Close, nil
	case "file":
		return sink.NewFile(cfg.ResultFile), nil, func() {}, nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, nil, nil, errors.New("S3_BUCKET is required for the s3 result sink")
		}
		client, err := sink.NewS3Client(ctx, cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		return sink.NewS3(client, cfg.S3Bucket, cfg.S3Prefix), nil, func() {}, nil
	case "memory":
		return sink.NewMemory(), nil, func() {}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown RESULT_SINK %q", cfg.ResultSink)
	}
}
