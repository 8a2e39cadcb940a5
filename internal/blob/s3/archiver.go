package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// Archiver implements domain.TradeArchiver by writing batches of evicted
// trade records as JSON-lines objects, keyed by upload time.
type Archiver struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
	now      func() time.Time
}

// NewArchiver creates an Archiver that writes under the given key prefix in
// the client's configured bucket.
func NewArchiver(c *Client, prefix string) *Archiver {
	return &Archiver{
		uploader: manager.NewUploader(c.S3()),
		bucket:   c.Bucket(),
		prefix:   prefix,
		now:      time.Now,
	}
}

// Archive uploads a batch of trade records as one JSONL object. The key
// embeds the upload timestamp so successive batches never collide.
func (a *Archiver) Archive(ctx context.Context, records []domain.TradeRecord) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("s3blob: encode trade %s: %w", rec.ID, err)
		}
	}

	ts := a.now().UTC()
	key := fmt.Sprintf("%s/%s/trades-%s.jsonl",
		a.prefix, ts.Format("2006/01/02"), ts.Format("150405.000000000"))

	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        &buf,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: archive %d trades to %s: %w", len(records), key, err)
	}
	return nil
}
