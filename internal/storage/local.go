package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStorage mirrors artifacts into a second directory, data under
// the artifact ID and metadata under ID+".json".
type LocalStorage struct {
	basePath string
}

func NewLocalStorage(config *LocalConfig) (*LocalStorage, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("base path is required for local storage")
	}

	if err := os.MkdirAll(config.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &LocalStorage{
		basePath: config.BasePath,
	}, nil
}

func (l *LocalStorage) Store(ctx context.Context, artifact *Artifact) error {
	dataPath := filepath.Join(l.basePath, artifact.ID)

	dataFile, err := os.Create(dataPath) // #nosec G304 - controlled backup storage path
	if err != nil {
		return fmt.Errorf("failed to create artifact file: %w", err)
	}
	defer dataFile.Close()

	if _, err := io.Copy(dataFile, artifact.DataReader); err != nil {
		os.Remove(dataPath)
		return fmt.Errorf("failed to write artifact data: %w", err)
	}

	metadataFile, err := os.Create(dataPath + ".json") // #nosec G304 - controlled backup storage path
	if err != nil {
		os.Remove(dataPath)
		return fmt.Errorf("failed to create metadata file: %w", err)
	}
	defer metadataFile.Close()

	if err := json.NewEncoder(metadataFile).Encode(artifact.Metadata); err != nil {
		os.Remove(dataPath)
		os.Remove(dataPath + ".json")
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	return nil
}

func (l *LocalStorage) Retrieve(ctx context.Context, id string) (*Artifact, error) {
	dataPath := filepath.Join(l.basePath, id)

	metadataFile, err := os.Open(dataPath + ".json") // #nosec G304 - controlled backup storage path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("artifact not found: %s", id)
		}
		return nil, fmt.Errorf("failed to open metadata file: %w", err)
	}
	defer metadataFile.Close()

	var metadata ArtifactMetadata
	if err := json.NewDecoder(metadataFile).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	dataFile, err := os.Open(dataPath) // #nosec G304 - controlled backup storage path
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact file: %w", err)
	}

	return &Artifact{
		ID:         id,
		Metadata:   metadata,
		DataReader: dataFile,
	}, nil
}

func (l *LocalStorage) List(ctx context.Context) ([]ArtifactMetadata, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read mirror directory: %w", err)
	}

	var artifacts []ArtifactMetadata
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		metadataPath := filepath.Join(l.basePath, entry.Name())

		metadataFile, err := os.Open(metadataPath) // #nosec G304 - controlled backup storage path
		if err != nil {
			continue
		}

		var metadata ArtifactMetadata
		err = json.NewDecoder(metadataFile).Decode(&metadata)
		metadataFile.Close()
		if err != nil {
			continue
		}

		artifacts = append(artifacts, metadata)
	}

	return artifacts, nil
}

func (l *LocalStorage) Delete(ctx context.Context, id string) error {
	dataPath := filepath.Join(l.basePath, id)

	if err := os.Remove(dataPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove artifact file: %w", err)
	}

	if err := os.Remove(dataPath + ".json"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove metadata file: %w", err)
	}

	return nil
}

func (l *LocalStorage) Exists(ctx context.Context, id string) (bool, error) {
	dataPath := filepath.Join(l.basePath, id)

	if _, err := os.Stat(dataPath + ".json"); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check artifact existence: %w", err)
	}

	return true, nil
}
