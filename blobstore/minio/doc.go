// Package minio provides a BlobStore implementation using the MinIO client.
//
// MinIO is an S3-compatible object storage system. This package uses the
// official MinIO Go client and works against MinIO and other S3-compatible
// services such as Ceph, SeaweedFS and Garage.
//
// # Basic Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "my-bucket", "indexes/")
//	idx, err := ngram.Load(ctx, store, "title.ngram")
//
// # Features
//
//   - Ranged GETs for lazy posting-block loads
//   - Streaming uploads; an aborted upload never creates the object
//   - No AWS SDK dependency
package minio
