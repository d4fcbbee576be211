package table

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sortedfile/sortedfile/pkg/config"
)

const manifestSuffix = ".manifest"

var (
	// ErrManifestNotFound indicates no manifest sidecar exists for a table
	ErrManifestNotFound = errors.New("manifest not found")
	// ErrInvalidManifest indicates a manifest that cannot be parsed
	ErrInvalidManifest = errors.New("invalid manifest")
)

// Manifest is the sidecar describing how a table file is laid out. It
// pins the layout fields of the config (key size bound, compression) so a
// file is always decoded the way it was written, whatever config the
// caller passes to Open.
type Manifest struct {
	Timestamp int64          `json:"timestamp"`
	Version   int            `json:"version"`
	Config    *config.Config `json:"config"`
}

func manifestPath(tablePath string) string {
	return tablePath + manifestSuffix
}

func loadManifest(tablePath string) (*Manifest, error) {
	data, err := os.ReadFile(manifestPath(tablePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if m.Config == nil {
		return nil, fmt.Errorf("%w: missing config", ErrInvalidManifest)
	}
	if err := m.Config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return &m, nil
}

func saveManifest(tablePath string, cfg *config.Config) error {
	m := Manifest{
		Timestamp: time.Now().Unix(),
		Version:   config.CurrentVersion,
		Config:    cfg,
	}

	data, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	tmp := manifestPath(tablePath) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, manifestPath(tablePath)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to install manifest: %w", err)
	}
	return nil
}

// mergeLayout overlays the persisted layout fields onto the caller's
// config. Locator and write-path tuning stay caller-controlled; only the
// fields that determine how bytes on disk are interpreted are pinned.
func mergeLayout(caller, persisted *config.Config) *config.Config {
	out := *caller
	out.MaxKeySize = persisted.MaxKeySize
	out.Compression = persisted.Compression
	return &out
}
