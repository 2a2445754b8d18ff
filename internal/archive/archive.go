// Package archive copies a note's version history to object storage before
// the ledger purges it.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"notegate/api/internal/store"
)

// objectStore is the part of *minio.Client the archiver uses.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type MinioArchiver struct {
	client objectStore
	bucket string
	now    func() time.Time
}

// NewMinioArchiver connects to the endpoint and creates the bucket if it is
// missing.
func NewMinioArchiver(ctx context.Context, cfg Config) (*MinioArchiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return newArchiver(ctx, client, cfg.Bucket, time.Now)
}

func newArchiver(ctx context.Context, client objectStore, bucket string, now func() time.Time) (*MinioArchiver, error) {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return &MinioArchiver{client: client, bucket: bucket, now: now}, nil
}

// Record is the archived form of a purged note.
type Record struct {
	Note       store.Note          `json:"note"`
	Versions   []store.NoteVersion `json:"versions"`
	ArchivedAt time.Time           `json:"archivedAt"`
}

// ArchiveHistory writes note and its versions as one JSON object keyed by
// note id and archive time.
func (a *MinioArchiver) ArchiveHistory(ctx context.Context, note store.Note, versions []store.NoteVersion) error {
	at := a.now().UTC()
	payload, err := json.Marshal(Record{Note: note, Versions: versions, ArchivedAt: at})
	if err != nil {
		return fmt.Errorf("marshal archive record: %w", err)
	}
	sum := sha256.Sum256(payload)

	_, err = a.client.PutObject(ctx, a.bucket, ObjectKey(note.ID, at), bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"checksum-sha256": hex.EncodeToString(sum[:]),
			"note-version":    fmt.Sprint(note.VersionNumber),
		},
	})
	if err != nil {
		return fmt.Errorf("put archive object: %w", err)
	}
	return nil
}

func ObjectKey(noteID string, at time.Time) string {
	return fmt.Sprintf("notes/%s/%s.json", noteID, at.UTC().Format("20060102T150405.000000000Z"))
}
