// Package speech handles prompt synthesis and recording storage on S3.
// Synthesized prompts are content-addressed by a hash of text and voice,
// so editing a flow re-synthesizes only the prompts that changed.
package speech

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// Engine produces audio bytes for a prompt. Implemented against the
// provider's TTS API; faked in tests.
type Engine interface {
	Render(ctx context.Context, text, voice string) (audio []byte, contentType string, err error)
}

// Synthesizer caches synthesized prompts in an S3 bucket, keyed by the
// content hash. It satisfies the flow package's Synthesizer interface.
type Synthesizer struct {
	s3        *s3.Client
	engine    Engine
	bucket    string
	publicURL string
	logger    zerolog.Logger
}

// NewSynthesizer creates an S3-backed prompt cache. publicURL is the
// base under which bucket objects are reachable by the telephony
// provider.
func NewSynthesizer(client *s3.Client, engine Engine, bucket, publicURL string, logger zerolog.Logger) *Synthesizer {
	return &Synthesizer{
		s3:        client,
		engine:    engine,
		bucket:    bucket,
		publicURL: publicURL,
		logger:    logger.With().Str("component", "speech").Logger(),
	}
}

// CacheKey derives the content address for a prompt
func CacheKey(text, voice string) string {
	sum := sha256.Sum256([]byte(voice + "\x00" + text))
	return "prompts/" + hex.EncodeToString(sum[:]) + ".mp3"
}

// Synthesize returns the cached audio URL for a prompt, rendering and
// uploading it on a cache miss
func (s *Synthesizer) Synthesize(ctx context.Context, text, voice string) (string, error) {
	key := CacheKey(text, voice)
	url := fmt.Sprintf("%s/%s", s.publicURL, key)

	_, err := s.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return url, nil
	}
	var notFound *s3types.NotFound
	if !errors.As(err, &notFound) {
		return "", fmt.Errorf("failed to check prompt cache: %w", err)
	}

	audio, contentType, err := s.engine.Render(ctx, text, voice)
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	_, err = s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(audio),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload prompt: %w", err)
	}

	s.logger.Info().
		Str("key", key).
		Int("bytes", len(audio)).
		Msg("synthesized prompt cached")
	return url, nil
}

// RecordingStore archives provider call recordings into S3 so they
// outlive the provider's retention window
type RecordingStore struct {
	s3     *s3.Client
	http   *http.Client
	bucket string
	logger zerolog.Logger
}

// NewRecordingStore creates a recording archive
func NewRecordingStore(client *s3.Client, bucket string, logger zerolog.Logger) *RecordingStore {
	return &RecordingStore{
		s3:     client,
		http:   &http.Client{},
		bucket: bucket,
		logger: logger.With().Str("component", "recordings").Logger(),
	}
}

// Archive downloads the recording from the provider and stores it under
// recordings/<tenant>/<callID>. Returns the archived object key.
func (r *RecordingStore) Archive(ctx context.Context, tenantID, callID, recordingURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build recording request: %w", err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch recording: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("recording fetch returned %d", resp.StatusCode)
	}

	key := fmt.Sprintf("recordings/%s/%s.mp3", tenantID, callID)
	put := &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        resp.Body,
		ContentType: aws.String("audio/mpeg"),
	}
	if resp.ContentLength > 0 {
		put.ContentLength = aws.Int64(resp.ContentLength)
	}
	_, err = r.s3.PutObject(ctx, put)
	if err != nil {
		return "", fmt.Errorf("failed to archive recording: %w", err)
	}

	r.logger.Info().
		Str("tenant_id", tenantID).
		Str("call_id", callID).
		Str("key", key).
		Msg("recording archived")
	return key, nil
}
