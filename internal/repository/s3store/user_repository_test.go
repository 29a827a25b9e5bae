package s3store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interview-auth/internal/domain"
	"interview-auth/internal/repository"
)

type fakeObject struct {
	body []byte
	etag string
}

// fakeS3 emulates the conditional write semantics of S3 in memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	seq     int
	headErr error
	// failPut, when set, can refuse a PutObject by key.
	failPut func(key string) error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]fakeObject{}}
}

func objectKey(bucket, key *string) string {
	return aws.ToString(bucket) + "/" + aws.ToString(key)
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failPut != nil {
		if err := f.failPut(aws.ToString(in.Key)); err != nil {
			return nil, err
		}
	}

	k := objectKey(in.Bucket, in.Key)
	existing, ok := f.objects[k]
	if aws.ToString(in.IfNoneMatch) == "*" && ok {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
	}
	if in.IfMatch != nil && (!ok || existing.etag != aws.ToString(in.IfMatch)) {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "etag mismatch"}
	}

	f.seq++
	etag := fmt.Sprintf("%q", fmt.Sprint(f.seq))
	f.objects[k] = fakeObject{body: body, etag: etag}
	return &s3.PutObjectOutput{ETag: aws.String(etag)}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	obj, ok := f.objects[objectKey(in.Bucket, in.Key)]
	f.mu.Unlock()
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}

	n := int64(len(obj.body))
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.body)),
		ContentLength: aws.Int64(n),
		ContentRange:  aws.String(fmt.Sprintf("bytes 0-%d/%d", n-1, n)),
		ETag:          aws.String(obj.etag),
	}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func newTestRepo(t *testing.T) (*UserRepository, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	repo := NewUserRepository(fake, "bucket", "/users/")
	require.NoError(t, repo.Init(context.Background()))
	return repo, fake
}

func TestParseDSN(t *testing.T) {
	bucket, prefix, err := ParseDSN("s3://auth-bucket/tenants/a/")
	require.NoError(t, err)
	assert.Equal(t, "auth-bucket", bucket)
	assert.Equal(t, "tenants/a", prefix)

	_, prefix, err = ParseDSN("s3://auth-bucket")
	require.NoError(t, err)
	assert.Equal(t, "users", prefix)

	_, _, err = ParseDSN("s3:///x")
	assert.Error(t, err)
	_, _, err = ParseDSN("postgres://x")
	assert.Error(t, err)
}

func TestInitRequiresBucket(t *testing.T) {
	repo := NewUserRepository(newFakeS3(), "", "users")
	assert.Error(t, repo.Init(context.Background()))
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo, fake := newTestRepo(t)

	user := &domain.User{Identifier: "PROF#123", PasswordHash: "hash", Role: domain.RoleFaculty}
	require.NoError(t, repo.Create(ctx, user))
	require.NotEmpty(t, user.ID)

	_, stored := fake.objects["bucket/users/identifiers/PROF%23123.json"]
	assert.True(t, stored, "identifier key must be escaped")

	got, err := repo.GetByIdentifier(ctx, "PROF#123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, domain.RoleFaculty, got.Role)
	assert.Equal(t, "hash", got.PasswordHash)

	byID, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "PROF#123", byID.Identifier)
}

func TestGetMissing(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	_, err := repo.GetByIdentifier(ctx, "NOPE")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = repo.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreateDuplicate(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	require.NoError(t, repo.Create(ctx, &domain.User{Identifier: "ABC", PasswordHash: "h", Role: domain.RoleStudent}))
	err := repo.Create(ctx, &domain.User{Identifier: "ABC", PasswordHash: "h", Role: domain.RoleStudent})
	assert.ErrorIs(t, err, repository.ErrDuplicate)
}

func TestCreateConcurrentDuplicate(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.Create(ctx, &domain.User{Identifier: "RACE", PasswordHash: "h", Role: domain.RoleStudent})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, repository.ErrDuplicate)
	}
	assert.Equal(t, 1, ok)
}

func TestCreatePointerFailureLeavesNoAccount(t *testing.T) {
	ctx := context.Background()
	repo, fake := newTestRepo(t)

	fake.failPut = func(key string) error {
		if strings.Contains(key, "/ids/") {
			return &smithy.GenericAPIError{Code: "ServiceUnavailable", Message: "transient 503"}
		}
		return nil
	}
	err := repo.Create(ctx, &domain.User{Identifier: "22BD1234", PasswordHash: "h", Role: domain.RoleStudent})
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrDuplicate)

	_, err = repo.GetByIdentifier(ctx, "22BD1234")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	fake.failPut = nil
	user := &domain.User{Identifier: "22BD1234", PasswordHash: "h", Role: domain.RoleStudent}
	require.NoError(t, repo.Create(ctx, user))

	byID, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "22BD1234", byID.Identifier)
}

func TestCreateIdentifierFailureKeepsLookupsConsistent(t *testing.T) {
	ctx := context.Background()
	repo, fake := newTestRepo(t)

	fake.failPut = func(key string) error {
		if strings.Contains(key, "/identifiers/") {
			return &smithy.GenericAPIError{Code: "InternalError", Message: "boom"}
		}
		return nil
	}
	user := &domain.User{Identifier: "ABC", PasswordHash: "h", Role: domain.RoleStudent}
	require.Error(t, repo.Create(ctx, user))

	_, err := repo.GetByID(ctx, user.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.GetByIdentifier(ctx, "ABC")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStrayPointerFromLostRace(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	winner := &domain.User{Identifier: "RACE", PasswordHash: "h", Role: domain.RoleStudent}
	require.NoError(t, repo.Create(ctx, winner))

	loser := &domain.User{Identifier: "RACE", PasswordHash: "h", Role: domain.RoleStudent}
	require.ErrorIs(t, repo.Create(ctx, loser), repository.ErrDuplicate)

	// the loser's pointer resolves to the winner's record, never to itself
	got, err := repo.GetByID(ctx, loser.ID)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, got.ID)
	assert.NotEqual(t, loser.ID, got.ID)

	assert.ErrorIs(t, repo.AppendLogin(ctx, loser.ID, time.Now()), repository.ErrNotFound)
	fresh, err := repo.GetByID(ctx, winner.ID)
	require.NoError(t, err)
	assert.Empty(t, fresh.LoginTimestamps)
}

func TestAppendLogin(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	user := &domain.User{Identifier: "X1", PasswordHash: "h", Role: domain.RoleStudent}
	require.NoError(t, repo.Create(ctx, user))

	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.AppendLogin(ctx, user.ID, at))
	require.NoError(t, repo.AppendLogin(ctx, user.ID, at.Add(time.Minute)))

	got, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, got.LoginTimestamps, 2)
	assert.True(t, got.LoginTimestamps[0].Equal(at))

	assert.ErrorIs(t, repo.AppendLogin(ctx, "missing", at), repository.ErrNotFound)
}

func TestPing(t *testing.T) {
	repo, fake := newTestRepo(t)
	assert.NoError(t, repo.Ping(context.Background()))

	fake.headErr = fmt.Errorf("forbidden")
	assert.Error(t, repo.Ping(context.Background()))
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", &smithy.GenericAPIError{Code: "NotFound"})))
	assert.False(t, isNotFound(fmt.Errorf("boom")))

	assert.True(t, isPreconditionFailure(&smithy.GenericAPIError{Code: "ConditionalRequestConflict"}))
	assert.False(t, isPreconditionFailure(&smithy.GenericAPIError{Code: "AccessDenied"}))
}
