package s3

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kit0ra/SCDownloader/internal/config"
	obmocks "github.com/kit0ra/SCDownloader/internal/observability/mocks"
	storagetypes "github.com/kit0ra/SCDownloader/internal/storage/types"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if params.Body != nil {
		_, _ = io.Copy(io.Discard, params.Body)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func (m *mockAPI) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.HeadObjectOutput), args.Error(1)
}

func (m *mockAPI) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.DeleteObjectOutput), args.Error(1)
}

func newTestClient(api API) *Client {
	return NewClientWithAPI(api, config.S3Config{Bucket: "artifacts", Region: "us-east-2"},
		obmocks.NewNopLogger(), obmocks.NewNopMetrics())
}

func TestClient_Put(t *testing.T) {
	api := &mockAPI{}
	api.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Bucket) == "artifacts" &&
			aws.ToString(in.Key) == "videos/abc.ts" &&
			aws.ToInt64(in.ContentLength) == 5 &&
			aws.ToString(in.ContentType) == "video/mp2t"
	})).Return(&s3.PutObjectOutput{}, nil)

	err := newTestClient(api).Put(context.Background(), "", "videos/abc.ts", strings.NewReader("hello"),
		storagetypes.ObjectMetadata{ContentType: "video/mp2t", ContentLength: 5})

	require.NoError(t, err)
	api.AssertExpectations(t)
}

func TestClient_PutError(t *testing.T) {
	api := &mockAPI{}
	api.On("PutObject", mock.Anything, mock.Anything).Return(nil, errors.New("access denied"))

	err := newTestClient(api).Put(context.Background(), "other", "k", strings.NewReader("x"), storagetypes.ObjectMetadata{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestClient_Exists(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		api := &mockAPI{}
		api.On("HeadObject", mock.Anything, mock.Anything).Return(&s3.HeadObjectOutput{}, nil)

		ok, err := newTestClient(api).Exists(context.Background(), "", "k")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("missing", func(t *testing.T) {
		api := &mockAPI{}
		api.On("HeadObject", mock.Anything, mock.Anything).Return(nil, &s3types.NotFound{})

		ok, err := newTestClient(api).Exists(context.Background(), "", "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("failure", func(t *testing.T) {
		api := &mockAPI{}
		api.On("HeadObject", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

		_, err := newTestClient(api).Exists(context.Background(), "", "k")
		assert.Error(t, err)
	})
}

func TestClient_Delete(t *testing.T) {
	api := &mockAPI{}
	api.On("DeleteObject", mock.Anything, mock.MatchedBy(func(in *s3.DeleteObjectInput) bool {
		return aws.ToString(in.Bucket) == "artifacts" && aws.ToString(in.Key) == "k"
	})).Return(&s3.DeleteObjectOutput{}, nil)

	require.NoError(t, newTestClient(api).Delete(context.Background(), "", "k"))
	api.AssertExpectations(t)
}

func TestNewClient_RequiresBucket(t *testing.T) {
	_, err := NewClient(config.StorageConfig{Provider: "s3"}, obmocks.NewNopLogger(), obmocks.NewNopMetrics())
	assert.Error(t, err)
}

// writeCABundle writes a self-signed certificate in PEM form and returns its path.
func writeCABundle(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "segmentdl test ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644))
	return path
}

func TestBuildAWSConfig_CustomCABundle(t *testing.T) {
	t.Setenv("AWS_CA_BUNDLE", writeCABundle(t))

	cfg, err := buildAWSConfig(config.StorageConfig{
		Provider: "s3",
		Timeout:  5 * time.Second,
		S3: config.S3Config{
			Region: "us-east-1",
			Bucket: "assets",
		},
	})
	require.NoError(t, err)

	client, ok := cfg.HTTPClient.(*awshttp.BuildableClient)
	require.True(t, ok, "http client is %T", cfg.HTTPClient)
	assert.Equal(t, 5*time.Second, client.GetTimeout())
}
