package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// BucketName is the GridFS bucket holding report files.
const BucketName = "reports"

// GridFSBlobStore keeps report files in a GridFS bucket alongside the
// patients collection. Blob metadata lives in the file document's metadata
// field.
type GridFSBlobStore struct {
	bucket *gridfs.Bucket
}

type gridFile struct {
	ID         string       `bson:"_id"`
	Length     int64        `bson:"length"`
	UploadDate time.Time    `bson:"uploadDate"`
	Filename   string       `bson:"filename"`
	Metadata   BlobMetadata `bson:"metadata"`
}

func (f gridFile) toMetadata() *BlobMetadata {
	m := f.Metadata
	m.ID = f.ID
	m.FileName = f.Filename
	m.Size = f.Length
	m.CreatedAt = f.UploadDate.UTC()
	return &m
}

func NewGridFSBlobStore(ctx context.Context, db *mongo.Database) (*GridFSBlobStore, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(BucketName))
	if err != nil {
		return nil, fmt.Errorf("open gridfs bucket: %w", err)
	}
	_, err = bucket.GetFilesCollection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "metadata.uhiNo", Value: 1}, {Key: "uploadDate", Value: 1}},
		Options: options.Index().SetName("metadata_uhiNo"),
	})
	if err != nil {
		return nil, fmt.Errorf("ensure report index: %w", err)
	}
	return &GridFSBlobStore{bucket: bucket}, nil
}

func (s *GridFSBlobStore) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepare(meta, content)
	if err != nil {
		return nil, err
	}
	if dl, ok := ctx.Deadline(); ok {
		if err := s.bucket.SetWriteDeadline(dl); err != nil {
			return nil, err
		}
	}
	opts := options.GridFSUpload().SetMetadata(meta)
	if err := s.bucket.UploadFromStreamWithID(meta.ID, meta.FileName, bytes.NewReader(data), opts); err != nil {
		return nil, fmt.Errorf("upload report: %w", err)
	}
	return &meta, nil
}

func (s *GridFSBlobStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	meta, err := s.GetMetadata(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if dl, ok := ctx.Deadline(); ok {
		if err := s.bucket.SetReadDeadline(dl); err != nil {
			return nil, nil, err
		}
	}
	stream, err := s.bucket.OpenDownloadStream(id)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("open report: %w", err)
	}
	return stream, meta, nil
}

func (s *GridFSBlobStore) GetMetadata(ctx context.Context, id string) (*BlobMetadata, error) {
	var f gridFile
	err := s.bucket.GetFilesCollection().FindOne(ctx, bson.M{"_id": id}).Decode(&f)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("find report: %w", err)
	}
	return f.toMetadata(), nil
}

func (s *GridFSBlobStore) ListByPatient(ctx context.Context, uhiNo string) ([]*BlobMetadata, error) {
	cur, err := s.bucket.GetFilesCollection().Find(ctx,
		bson.M{"metadata.uhiNo": uhiNo},
		options.Find().SetSort(bson.D{{Key: "uploadDate", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	var files []gridFile
	if err := cur.All(ctx, &files); err != nil {
		return nil, fmt.Errorf("decode reports: %w", err)
	}
	out := make([]*BlobMetadata, 0, len(files))
	for _, f := range files {
		out = append(out, f.toMetadata())
	}
	return out, nil
}

func (s *GridFSBlobStore) Delete(_ context.Context, id string) error {
	if err := s.bucket.Delete(id); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("delete report: %w", err)
	}
	return nil
}
