// Package s3store keeps user records as JSON documents in an S3 bucket (or an
// S3 compatible API). Uniqueness of identifiers relies on conditional writes.
package s3store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"interview-auth/internal/domain"
	"interview-auth/internal/repository"
)

// ObjectAPI is the subset of *s3.Client the store needs.
type ObjectAPI interface {
	manager.DownloadAPIClient
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// UserRepository stores one document per identifier under
// <prefix>/identifiers/ and a pointer per id under <prefix>/ids/.
type UserRepository struct {
	client     ObjectAPI
	downloader *manager.Downloader
	bucket     string
	prefix     string
}

func NewUserRepository(client ObjectAPI, bucket, prefix string) *UserRepository {
	return &UserRepository{
		client:     client,
		downloader: manager.NewDownloader(client),
		bucket:     bucket,
		prefix:     strings.Trim(prefix, "/"),
	}
}

// ParseDSN splits s3://bucket/prefix into its parts.
func ParseDSN(dsn string) (bucket, prefix string, err error) {
	if !strings.HasPrefix(dsn, "s3://") {
		return "", "", fmt.Errorf("invalid s3 dsn")
	}
	rest := strings.TrimPrefix(dsn, "s3://")
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("s3 bucket missing")
	}
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	if prefix == "" {
		prefix = "users"
	}
	return parts[0], prefix, nil
}

type userDocument struct {
	ID              string      `json:"id"`
	Identifier      string      `json:"identifier"`
	PasswordHash    string      `json:"password_hash"`
	Role            domain.Role `json:"role"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	LoginTimestamps []time.Time `json:"login_timestamps,omitempty"`
}

type idPointer struct {
	Identifier string `json:"identifier"`
}

func (r *UserRepository) Init(ctx context.Context) error {
	if r.bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}
	return nil
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	// The id pointer is written first so an identifier document never exists
	// without one. A pointer left behind by a lost race names another user's
	// record and fails the id check on every read path.
	if _, err := r.put(ctx, r.idKey(user.ID), idPointer{Identifier: user.Identifier}, ifAbsent); err != nil {
		return fmt.Errorf("insert user id pointer: %w", err)
	}

	if _, err := r.put(ctx, r.identifierKey(user.Identifier), toDocument(user), ifAbsent); err != nil {
		if isPreconditionFailure(err) {
			return fmt.Errorf("insert user %s: %w", user.Identifier, repository.ErrDuplicate)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func ifAbsent(in *s3.PutObjectInput) {
	in.IfNoneMatch = aws.String("*")
}

func (r *UserRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	var doc userDocument
	if err := r.download(ctx, r.identifierKey(identifier), &doc); err != nil {
		return nil, err
	}
	return doc.toUser(), nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var ptr idPointer
	if err := r.download(ctx, r.idKey(id), &ptr); err != nil {
		return nil, err
	}
	return r.GetByIdentifier(ctx, ptr.Identifier)
}

// AppendLogin rewrites the record guarded by its ETag, so a concurrent writer
// makes this call fail instead of losing an entry.
func (r *UserRepository) AppendLogin(ctx context.Context, id string, at time.Time) error {
	var ptr idPointer
	if err := r.download(ctx, r.idKey(id), &ptr); err != nil {
		return err
	}

	key := r.identifierKey(ptr.Identifier)
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("get user: %w", err)
	}
	defer out.Body.Close()

	var doc userDocument
	if err := json.NewDecoder(out.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode user: %w", err)
	}
	if doc.ID != id {
		return repository.ErrNotFound
	}
	doc.LoginTimestamps = append(doc.LoginTimestamps, at.UTC())
	doc.UpdatedAt = at.UTC()

	etag := aws.ToString(out.ETag)
	if _, err := r.put(ctx, key, doc, func(in *s3.PutObjectInput) {
		if etag != "" {
			in.IfMatch = aws.String(etag)
		}
	}); err != nil {
		return fmt.Errorf("append login: %w", err)
	}
	return nil
}

func (r *UserRepository) Ping(ctx context.Context) error {
	_, err := r.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(r.bucket)})
	if err != nil {
		return fmt.Errorf("head bucket: %w", err)
	}
	return nil
}

func (r *UserRepository) Close() error {
	return nil
}

func (r *UserRepository) identifierKey(identifier string) string {
	return r.prefix + "/identifiers/" + url.PathEscape(identifier) + ".json"
}

func (r *UserRepository) idKey(id string) string {
	return r.prefix + "/ids/" + url.PathEscape(id) + ".json"
}

func (r *UserRepository) put(ctx context.Context, key string, v any, mutate func(*s3.PutObjectInput)) (*s3.PutObjectOutput, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
		ACL:           types.ObjectCannedACLPrivate,
	}
	if mutate != nil {
		mutate(in)
	}
	return r.client.PutObject(ctx, in)
}

func (r *UserRepository) download(ctx context.Context, key string, v any) error {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := r.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("download %s: %w", key, err)
	}
	if err := json.Unmarshal(buf.Bytes(), v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func toDocument(u *domain.User) userDocument {
	return userDocument{
		ID:              u.ID,
		Identifier:      u.Identifier,
		PasswordHash:    u.PasswordHash,
		Role:            u.Role,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
		LoginTimestamps: u.LoginTimestamps,
	}
}

func (d userDocument) toUser() *domain.User {
	return &domain.User{
		ID:              d.ID,
		Identifier:      d.Identifier,
		PasswordHash:    d.PasswordHash,
		Role:            d.Role,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		LoginTimestamps: d.LoginTimestamps,
	}
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func isPreconditionFailure(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

var _ repository.UserRepository = (*UserRepository)(nil)
