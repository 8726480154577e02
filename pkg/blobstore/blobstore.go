// Package blobstore is an object store for story artifacts, survey payload
// attachments, and biosignal samples, backed by S3-compatible storage. Keys
// are built from ids, versions and timestamps, not from content, and are
// opaque to callers except for the namespace prefix convention documented
// in spec §6 (e.g. "biosignals/...").
package blobstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/codeready-toolchain/studyengine/pkg/apperrors"
)

// validKey rejects path traversal and anything outside a conservative
// charset; keys are generated internally, never taken verbatim from
// end-user input, but a future caller mistake shouldn't become a
// cross-tenant read.
var validKey = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9/_.-]*$`)

// Store wraps an S3 client scoped to one bucket.
type Store struct {
	client *s3.Client
	bucket string
}

// New constructs a Store for the given bucket using an already-configured
// S3 client (region, credentials resolved by the caller via
// aws-sdk-go-v2/config).
func New(client *s3.Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// Bucket returns the bucket name this store writes to.
func (s *Store) Bucket() string {
	return s.bucket
}

// Ping checks bucket reachability, satisfying store.Pinger for readiness
// checks.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("blobstore: bucket %q unreachable: %w", s.bucket, err)
	}
	return nil
}

func sanitizeKey(key string) (string, error) {
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned == "." || !validKey.MatchString(cleaned) {
		return "", fmt.Errorf("%w: invalid blob key %q", apperrors.ErrInvalidInput, key)
	}
	return cleaned, nil
}

// Put uploads content under key, returning the final stored key.
func (s *Store) Put(ctx context.Context, key string, content io.Reader, contentType string) (string, error) {
	cleaned, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}

	uploader := manager.NewUploader(s.client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(cleaned),
		Body:        content,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("blobstore: put %q: %w", cleaned, err)
	}
	return cleaned, nil
}

// Get downloads the object at key. Caller must close the returned reader.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	cleaned, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(cleaned),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: blobstore get %q: %v", apperrors.ErrNotFound, cleaned, err)
	}
	return out.Body, nil
}

// Delete removes the object at key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	cleaned, err := sanitizeKey(key)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(cleaned),
	})
	if err != nil {
		return fmt.Errorf("blobstore: delete %q: %w", cleaned, err)
	}
	return nil
}

// PresignPutURL returns a time-limited URL the browser can PUT content to
// directly, for story artifact uploads that bypass the engine.
func (s *Store) PresignPutURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	cleaned, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}

	presignClient := s3.NewPresignClient(s.client)
	req, err := presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(cleaned),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("blobstore: presign %q: %w", cleaned, err)
	}
	return req.URL, nil
}

// StoryArtifactKey builds the conventional key for a participant's
// plugin-typed artifact version, per spec §4.10:
// stories/{participantId}/{pluginType}/v{version}_{epochMs}.json.
func StoryArtifactKey(participantID, pluginType string, version int, epochMs int64) string {
	return fmt.Sprintf("stories/%s/%s/v%d_%d.json", participantID, pluginType, version, epochMs)
}

// BiosignalKey builds the conventional key for a biosignal sample, matching
// the "biosignals/..." namespace named in spec §6.
func BiosignalKey(participantID, kind, sampleID string) string {
	return fmt.Sprintf("biosignals/%s/%s/%s", participantID, kind, sampleID)
}

// ExportKey builds the conventional key for a batch export artifact, per
// spec §6: exports/{studyId}/batch-{batchId}/{iso-timestamp}.{ext}.
func ExportKey(studyID, batchID, isoTimestamp, ext string) string {
	return fmt.Sprintf("exports/%s/batch-%s/%s.%s", studyID, batchID, isoTimestamp, ext)
}
