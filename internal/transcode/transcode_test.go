package transcode

import (
	"context"
	"errors"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
)

type fakeUploader struct {
	name      string
	uploadErr error
	statuses  []JobStatus
	polls     int
	details   *AssetDetails
}

func (f *fakeUploader) Upload(ctx context.Context, req UploadRequest) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return f.name, nil
}

func (f *fakeUploader) Status(ctx context.Context, name string) (*JobStatus, error) {
	status := f.statuses[f.polls]
	if f.polls < len(f.statuses)-1 {
		f.polls++
	}
	return &status, nil
}

func (f *fakeUploader) Details(ctx context.Context, name string) (*AssetDetails, error) {
	return f.details, nil
}

func testConfig() Config {
	return Config{PollDelay: time.Millisecond, MaxPolls: 10}
}

func TestConvert_CompletesAfterEncoding(t *testing.T) {
	assert := assert_.New(t)

	uploader := &fakeUploader{
		name: "SomeGif",
		statuses: []JobStatus{
			{Task: TaskEncoding},
			{Task: TaskEncoding},
			{Task: TaskComplete},
		},
	}
	outcome, err := New(uploader, testConfig()).Convert(context.Background(), UploadRequest{
		FetchURL: "https://example.com/a.gif",
	})
	assert.NoError(err)
	assert.Equal("SomeGif", outcome.Name)
	assert.Equal("https://gfycat.com/SomeGif", outcome.URL)
	assert.GreaterOrEqual(outcome.Duration, time.Duration(0))
}

func TestConvert_ServiceError(t *testing.T) {
	assert := assert_.New(t)

	uploader := &fakeUploader{
		name: "SomeGif",
		statuses: []JobStatus{
			{Task: TaskEncoding},
			{Task: TaskError, ErrorMessage: "source too large"},
		},
	}
	_, err := New(uploader, testConfig()).Convert(context.Background(), UploadRequest{})
	var uploadErr *UploadError
	assert.ErrorAs(err, &uploadErr)
	assert.Equal("SomeGif", uploadErr.Name)
	assert.Equal("source too large", uploadErr.Detail)
	assert.NotErrorIs(err, ErrUploadTimeout)
}

func TestConvert_NotFoundIsServiceError(t *testing.T) {
	assert := assert_.New(t)

	uploader := &fakeUploader{
		name:     "SomeGif",
		statuses: []JobStatus{{Task: TaskNotFound}},
	}
	_, err := New(uploader, testConfig()).Convert(context.Background(), UploadRequest{})
	var uploadErr *UploadError
	assert.ErrorAs(err, &uploadErr)
	assert.Equal(TaskNotFound, uploadErr.Task)
}

func TestConvert_Timeout(t *testing.T) {
	assert := assert_.New(t)

	uploader := &fakeUploader{
		name:     "SomeGif",
		statuses: []JobStatus{{Task: TaskEncoding}},
	}
	_, err := New(uploader, Config{PollDelay: time.Millisecond, MaxPolls: 3}).
		Convert(context.Background(), UploadRequest{})
	assert.ErrorIs(err, ErrUploadTimeout)
}

func TestConvert_UploadFails(t *testing.T) {
	assert := assert_.New(t)

	boom := errors.New("service unavailable")
	uploader := &fakeUploader{uploadErr: boom}
	_, err := New(uploader, testConfig()).Convert(context.Background(), UploadRequest{})
	assert.ErrorIs(err, boom)
}

func TestSizeOrUnknown(t *testing.T) {
	assert := assert_.New(t)

	assert.Equal(int64(100), sizeOrUnknown(100))
	assert.Equal(int64(-1), sizeOrUnknown(0))
	assert.Equal(int64(-1), sizeOrUnknown(-5))
}
