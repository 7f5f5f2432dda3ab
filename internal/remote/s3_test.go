package remote

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func TestS3ObjectKey(t *testing.T) {
	c := NewS3Client(&Target{Host: "bucket", Dir: "backups/laptop"}, Options{})
	assert.Equal(t, "backups/laptop/docs/a.txt", c.objectKey("docs/a.txt"))

	c = NewS3Client(&Target{Host: "bucket"}, Options{})
	assert.Equal(t, "docs/a.txt", c.objectKey("docs/a.txt"))
}

func TestIsObjectMissing(t *testing.T) {
	assert.True(t, isObjectMissing(&types.NotFound{}))
	assert.True(t, isObjectMissing(fmt.Errorf("head: %w", &types.NoSuchKey{})))
	assert.True(t, isObjectMissing(&smithy.GenericAPIError{Code: "NotFound"}))

	assert.False(t, isObjectMissing(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isObjectMissing(errors.New("connection refused")))
	assert.False(t, isObjectMissing(nil))
}
