package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockS3 struct {
	body  string
	err   error
	input *s3.GetObjectInput
}

func (m *mockS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(m.body))}, nil
}

func TestS3MealState(t *testing.T) {
	t.Run("reads object", func(t *testing.T) {
		client := &mockS3{body: `{"foods":[]}`}
		data, err := NewS3MealState(client, "bucket", "meals.json").Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, `{"foods":[]}`, string(data))
		assert.Equal(t, "bucket", aws.ToString(client.input.Bucket))
		assert.Equal(t, "meals.json", aws.ToString(client.input.Key))
	})

	t.Run("wraps errors", func(t *testing.T) {
		client := &mockS3{err: errors.New("access denied")}
		_, err := NewS3MealState(client, "bucket", "meals.json").Load(context.Background())
		assert.ErrorContains(t, err, "failed to get meals object from S3")
	})
}
