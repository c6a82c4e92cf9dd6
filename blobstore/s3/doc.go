// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "indexes/")
//
//	b, err := ngram.NewBuilder(store)
//
// # Features
//
//   - Range reads, so only the posting blocks a query touches are fetched
//   - Multipart uploads for large indexes, aborted when the build fails
//   - CRC32C integrity checks on single-shot puts
//   - Automatic pagination for listing
package s3
