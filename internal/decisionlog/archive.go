package decisionlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/loicricci/albee-poc-sub001/pkg/logging"
)

// S3API is the subset of the S3 client the archiver uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ErrArchiveDisabled is returned when no bucket is configured.
var ErrArchiveDisabled = errors.New("decisionlog: archive bucket not configured")

// Archiver exports decision records to S3 as JSON lines.
type Archiver struct {
	store  Store
	s3     S3API
	bucket string
	logger *logging.Logger
}

// NewArchiver returns an archiver. An empty bucket disables it.
func NewArchiver(store Store, client S3API, bucket string, logger *logging.Logger) *Archiver {
	if store == nil {
		panic("decisionlog: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Archiver{store: store, s3: client, bucket: bucket, logger: logger}
}

func (a *Archiver) Enabled() bool {
	return a != nil && a.bucket != "" && a.s3 != nil
}

// ArchiveResult names the object written.
type ArchiveResult struct {
	Bucket  string `json:"bucket"`
	Key     string `json:"key"`
	Records int    `json:"records"`
}

// Export writes every record for the persona in [from, to) to
// decisions/v1/<persona>/<from>_<to>.jsonl.
func (a *Archiver) Export(ctx context.Context, personaID string, from, to time.Time) (ArchiveResult, error) {
	if !a.Enabled() {
		return ArchiveResult{}, ErrArchiveDisabled
	}
	records, err := a.store.List(ctx, Filter{PersonaID: personaID, From: from, To: to})
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("decisionlog: archive list: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return ArchiveResult{}, fmt.Errorf("decisionlog: archive marshal: %w", err)
		}
	}

	key := fmt.Sprintf("decisions/v1/%s/%s_%s.jsonl", personaID,
		from.UTC().Format("20060102T150405Z"), to.UTC().Format("20060102T150405Z"))
	_, err = a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("decisionlog: s3 put %s: %w", key, err)
	}
	a.logger.Info("archived decision records", "persona_id", personaID, "s3_key", key, "records", len(records))
	return ArchiveResult{Bucket: a.bucket, Key: key, Records: len(records)}, nil
}
