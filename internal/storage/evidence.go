package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/spec-kit/field-service/internal/config"
)

// EvidenceStore accepts completion-evidence uploads and returns an opaque
// reference URL.
type EvidenceStore interface {
	Save(fileName string, data []byte) (string, error)
}

type fsEvidenceStore struct {
	dir     string
	baseURL string
}

// NewEvidenceStore builds a filesystem-backed store.
func NewEvidenceStore(cfg config.EvidenceConfig) (EvidenceStore, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	return &fsEvidenceStore{dir: cfg.Dir, baseURL: strings.TrimRight(cfg.BaseURL, "/")}, nil
}

func (s *fsEvidenceStore) Save(fileName string, data []byte) (string, error) {
	ext := filepath.Ext(fileName)
	key := uuid.NewString() + ext
	if err := os.WriteFile(filepath.Join(s.dir, key), data, 0o644); err != nil {
		return "", fmt.Errorf("write evidence file: %w", err)
	}
	return s.baseURL + "/" + key, nil
}
