// Package diagnostics optionally uploads crash-adjacent artifacts (the
// tail of a session's upload buffer at the moment of a CodecError) to S3
// for postmortem (SPEC_FULL.md §4.8). Like the audit store, it is
// best-effort: a missing bucket or failed upload never affects the
// session it's trying to capture.
package diagnostics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver uploads diagnostic snapshots under a per-session key prefix.
// Grounded on services/s3_video_service.go's NewVideoService construction
// and services/s3_manager.go's streaming-upload shape in the teacher repo.
type Archiver struct {
	client *s3.Client
	bucket string
}

// New builds an Archiver for bucket using the ambient AWS config resolution
// chain (env vars, shared config, instance role). If bucket is empty the
// returned Archiver is a no-op, matching the teacher's S3_VIDEO_BUCKET
// optional-feature gating in main.go.
func New(ctx context.Context, bucket string) *Archiver {
	if bucket == "" {
		return &Archiver{}
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Printf("diagnostics: load aws config: %v, archiver disabled", err)
		return &Archiver{}
	}
	return &Archiver{client: s3.NewFromConfig(cfg), bucket: bucket}
}

// Enabled reports whether uploads will actually happen.
func (a *Archiver) Enabled() bool { return a.client != nil && a.bucket != "" }

// ArchiveError uploads a snapshot of a session's recent upload-buffer
// bytes plus the triggering error message, keyed by session and time, so
// a crash can be replayed against the reference codec offline.
func (a *Archiver) ArchiveError(ctx context.Context, sessionID string, tail io.Reader, cause error) {
	if !a.Enabled() {
		return
	}
	key := fmt.Sprintf("sessions/%s/%d-error.bin", sessionID, time.Now().UnixNano())

	var buf bytes.Buffer
	if cause != nil {
		buf.WriteString(cause.Error())
		buf.WriteString("\n---\n")
	}
	if tail != nil {
		if _, err := io.Copy(&buf, tail); err != nil {
			log.Printf("diagnostics: read tail for %s: %v", sessionID, err)
		}
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		log.Printf("diagnostics: upload %s: %v", key, err)
	}
}
