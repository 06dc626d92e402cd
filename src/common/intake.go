package common

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"strings"

	"arts/src/config"
	"arts/src/lib"
	"arts/src/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/tidwall/gjson"
)

// StagedPayload is one intake item materialized to local temp storage. The
// remote copy still exists until Commit confirms its deletion; Discard drops
// the local staging on every exit path so no temp files leak. Quarantine
// moves the remote copy aside so an item that can never materialize stops
// blocking the drain.
type StagedPayload interface {
	Data() types.JSONB
	Commit(ctx context.Context) error
	Quarantine(ctx context.Context) error
	Discard()
}

// IntakeSource hands out pending request payloads one at a time. FetchNext
// returns (nil, nil) when nothing is pending.
type IntakeSource interface {
	FetchNext(ctx context.Context) (StagedPayload, error)
}

// S3Intake reads request documents from a drop-box bucket.
type S3Intake struct {
	cfg *config.Config
}

func NewS3Intake(cfg *config.Config) *S3Intake {
	return &S3Intake{cfg: cfg}
}

func (s *S3Intake) FetchNext(ctx context.Context) (StagedPayload, error) {
	client := lib.AWSGetS3Client()
	output, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.cfg.IntakeBucket),
		Prefix:  aws.String(s.cfg.IntakePrefix),
		MaxKeys: aws.Int32(10),
	})
	if err != nil {
		log.Printf("[intake] Error listing objects: %s\n", err.Error())
		return nil, err
	}
	key := ""
	for _, object := range output.Contents {
		k := aws.ToString(object.Key)
		if strings.HasSuffix(k, "/") {
			continue
		}
		if strings.HasPrefix(k, s.cfg.IntakeQuarantinePrefix) {
			continue
		}
		key = k
		break
	}
	if key == "" {
		return nil, nil
	}

	object, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.IntakeBucket),
		Key:    aws.String(key),
	})
	if err != nil {
		log.Printf("[intake] Error retrieving object %s: %s\n", key, err.Error())
		return nil, err
	}
	defer object.Body.Close()

	if err := os.MkdirAll(s.cfg.IntakeTempDir, 0o755); err != nil {
		return nil, err
	}
	file, err := os.CreateTemp(s.cfg.IntakeTempDir, "intake-*.json")
	if err != nil {
		return nil, err
	}
	local := file.Name()
	_, err = io.Copy(file, object.Body)
	file.Close()
	if err != nil {
		os.Remove(local)
		return nil, err
	}

	body, err := os.ReadFile(local)
	if err != nil {
		os.Remove(local)
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		os.Remove(local)
		if err := s.quarantine(ctx, key); err != nil {
			log.Printf("[intake] Error quarantining object %s: %s\n", key, err.Error())
		}
		return nil, fmt.Errorf("%w: invalid json in intake object %s", ErrInvalidPayload, key)
	}
	var data types.JSONB
	if err := json.Unmarshal(body, &data); err != nil {
		os.Remove(local)
		if qerr := s.quarantine(ctx, key); qerr != nil {
			log.Printf("[intake] Error quarantining object %s: %s\n", key, qerr.Error())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, err.Error())
	}

	return &s3StagedPayload{
		intake: s,
		key:    key,
		local:  local,
		data:   data,
	}, nil
}

// quarantine moves a remote object under the quarantine prefix so the next
// listing skips it.
func (s *S3Intake) quarantine(ctx context.Context, key string) error {
	client := lib.AWSGetS3Client()
	dest := s.cfg.IntakeQuarantinePrefix + path.Base(key)
	_, err := client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.cfg.IntakeBucket),
		CopySource: aws.String(s.cfg.IntakeBucket + "/" + key),
		Key:        aws.String(dest),
	})
	if err != nil {
		return err
	}
	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.IntakeBucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}
	log.Printf("[intake] Quarantined object %s as %s\n", key, dest)
	return nil
}

type s3StagedPayload struct {
	intake *S3Intake
	key    string
	local  string
	data   types.JSONB
}

func (p *s3StagedPayload) Data() types.JSONB {
	return p.data
}

func (p *s3StagedPayload) Commit(ctx context.Context) error {
	client := lib.AWSGetS3Client()
	_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.intake.cfg.IntakeBucket),
		Key:    aws.String(p.key),
	})
	if err != nil {
		log.Printf("[intake] Error deleting object %s: %s\n", p.key, err.Error())
		return err
	}
	return nil
}

func (p *s3StagedPayload) Quarantine(ctx context.Context) error {
	return p.intake.quarantine(ctx, p.key)
}

func (p *s3StagedPayload) Discard() {
	if err := os.Remove(p.local); err != nil && !os.IsNotExist(err) {
		log.Printf("[intake] Error removing staged file %s: %s\n", p.local, err.Error())
	}
}
