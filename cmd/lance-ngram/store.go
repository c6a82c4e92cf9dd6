package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/colemanliyah/lance/blobstore"
	"github.com/colemanliyah/lance/blobstore/bolt"
	minioblob "github.com/colemanliyah/lance/blobstore/minio"
	s3blob "github.com/colemanliyah/lance/blobstore/s3"
	"github.com/colemanliyah/lance/internal/config"
)

// storeLocation is a parsed store URL.
type storeLocation struct {
	Scheme   string // "", s3, minio or bolt
	Endpoint string // minio only
	Bucket   string
	Prefix   string
	Path     string // local directory or bolt file
}

func parseStoreURL(raw string) (storeLocation, error) {
	if raw == "" {
		return storeLocation{}, fmt.Errorf("empty store URL")
	}
	if !strings.Contains(raw, "://") {
		return storeLocation{Path: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return storeLocation{}, fmt.Errorf("invalid store URL %q: %w", raw, err)
	}
	rest := strings.Trim(u.Path, "/")

	switch u.Scheme {
	case "file":
		return storeLocation{Path: u.Host + u.Path}, nil
	case "s3":
		if u.Host == "" {
			return storeLocation{}, fmt.Errorf("store URL %q: missing bucket", raw)
		}
		return storeLocation{Scheme: "s3", Bucket: u.Host, Prefix: rest}, nil
	case "minio":
		bucket, prefix, _ := strings.Cut(rest, "/")
		if u.Host == "" || bucket == "" {
			return storeLocation{}, fmt.Errorf("store URL %q: want minio://endpoint/bucket[/prefix]", raw)
		}
		return storeLocation{Scheme: "minio", Endpoint: u.Host, Bucket: bucket, Prefix: prefix}, nil
	case "bolt":
		p := u.Host + u.Path
		if p == "" {
			return storeLocation{}, fmt.Errorf("store URL %q: missing file path", raw)
		}
		return storeLocation{Scheme: "bolt", Path: p}, nil
	default:
		return storeLocation{}, fmt.Errorf("store URL %q: unsupported scheme %q", raw, u.Scheme)
	}
}

// openStore opens the configured store. The returned func releases it.
func openStore(ctx context.Context, sc config.StoreConfig) (blobstore.BlobStore, func() error, error) {
	loc, err := parseStoreURL(sc.URL)
	if err != nil {
		return nil, nil, err
	}
	noop := func() error { return nil }

	switch loc.Scheme {
	case "s3":
		var opts []func(*awsconfig.LoadOptions) error
		if sc.Region != "" {
			opts = append(opts, awsconfig.WithRegion(sc.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return s3blob.NewStore(s3.NewFromConfig(awsCfg), loc.Bucket, loc.Prefix), noop, nil

	case "minio":
		creds := credentials.NewEnvMinio()
		if sc.AccessKey != "" {
			creds = credentials.NewStaticV4(sc.AccessKey, sc.SecretKey, "")
		}
		client, err := minio.New(loc.Endpoint, &minio.Options{
			Creds:  creds,
			Secure: sc.UseSSL,
			Region: sc.Region,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create minio client: %w", err)
		}
		return minioblob.NewStore(client, loc.Bucket, loc.Prefix), noop, nil

	case "bolt":
		st, err := bolt.Open(loc.Path)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil

	default:
		return blobstore.NewLocalStore(loc.Path), noop, nil
	}
}
