package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"

	"classlens/models"
)

type ArchiveConfig struct {
	AccessKey string
	SecretKey string
	Region    string
	Endpoint  string
	Bucket    string
}

// ArchiveClient exports completed runs to S3-compatible object storage.
// Archival is best effort; a failed upload never fails the run.
type ArchiveClient struct {
	client *s3.Client
	bucket string
}

func NewArchiveClient(cfg ArchiveConfig) (*ArchiveClient, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if cfg.Endpoint != "" {
			return aws.Endpoint{URL: cfg.Endpoint}, nil
		}
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load SDK config")
	}

	return &ArchiveClient{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
	}, nil
}

type archivedRun struct {
	WorkflowID   string                   `json:"workflow_id"`
	VideoID      string                   `json:"video_id"`
	Language     string                   `json:"language"`
	FrameworkIDs []string                 `json:"framework_ids"`
	Transcript   *models.TranscriptRecord `json:"transcript,omitempty"`
	Report       *models.AnalysisReport   `json:"report,omitempty"`
	ArchivedAt   time.Time                `json:"archived_at"`
}

// ArchiveRun uploads the run's transcript and report as a single JSON
// document keyed by video and workflow id.
func (a *ArchiveClient) ArchiveRun(
	ctx context.Context,
	run *models.WorkflowRun,
	transcript *models.TranscriptRecord,
	report *models.AnalysisReport,
) error {
	doc := archivedRun{
		WorkflowID:   run.ID,
		VideoID:      run.Reference.SourceID,
		Language:     run.Reference.Language,
		FrameworkIDs: run.FrameworkIDs,
		Transcript:   transcript,
		Report:       report,
		ArchivedAt:   time.Now().UTC(),
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal run")
	}

	key := fmt.Sprintf("runs/%s/%s.json", run.Reference.SourceID, run.ID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return errors.Wrap(err, "failed to upload run")
	}
	return nil
}
