// Package storage implements mirror backends for backup artifacts.
// The primary copy of every artifact lives on the local filesystem; a
// mirror keeps a second copy (with a metadata sidecar) in another
// directory, an S3 bucket, or a GCS bucket.
package storage

import (
	"context"
	"io"
	"time"
)

// Artifact is one router configuration file captured during a run.
type Artifact struct {
	ID         string
	Metadata   ArtifactMetadata
	DataReader io.Reader
}

// ArtifactMetadata describes a captured artifact. It is stored next to
// the data as a JSON sidecar.
type ArtifactMetadata struct {
	ID           string    `json:"id"`
	RouterName   string    `json:"router_name"`
	RouterAddr   string    `json:"router_addr"`
	SourceFile   string    `json:"source_file"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
	RunTimestamp string    `json:"run_timestamp"`
	Encrypted    bool      `json:"encrypted,omitempty"`
}

// Backend stores and retrieves artifacts.
type Backend interface {
	Store(ctx context.Context, artifact *Artifact) error
	Retrieve(ctx context.Context, id string) (*Artifact, error)
	List(ctx context.Context) ([]ArtifactMetadata, error)
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
}

// Config selects and configures a backend.
type Config struct {
	Type  string
	Local *LocalConfig
	GCS   *GCSConfig
	S3    *S3Config
}

type LocalConfig struct {
	BasePath string
}

type GCSConfig struct {
	Bucket      string
	ProjectID   string
	Credentials string
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}
