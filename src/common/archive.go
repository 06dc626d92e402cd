package common

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"arts/src/config"

	"github.com/gosimple/slug"
)

// ArchiveStore keeps the page snapshot taken for each ticket. Snapshots live
// under the temp dir until the ticket is accepted, then move to permanent
// storage; denied and expired tickets lose theirs.
type ArchiveStore struct {
	cfg    *config.Config
	client *http.Client
}

func NewArchiveStore(cfg *config.Config) *ArchiveStore {
	return &ArchiveStore{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.IntakeTimeout},
	}
}

// Snapshot fetches url and writes the response body under the temp dir,
// returning the file path.
func (a *ArchiveStore) Snapshot(id, url, title string) (string, error) {
	if err := os.MkdirAll(a.cfg.ArchiveTempDir, 0o755); err != nil {
		return "", err
	}
	name := id
	if title != "" {
		name = fmt.Sprintf("%s-%s", id, slug.Make(title))
	}
	path := filepath.Join(a.cfg.ArchiveTempDir, fmt.Sprintf("%s.html", name))

	resp, err := a.client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		// the page is gone or refused; retrying will not help
		return "", fmt.Errorf("%w: GET %s: HTTP status code %d", ErrInvalidPayload, url, resp.StatusCode)
	}

	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	if _, err := io.Copy(file, resp.Body); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// Promote moves an accepted snapshot into permanent storage and returns the
// new path.
func (a *ArchiveStore) Promote(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if err := os.MkdirAll(a.cfg.ArchiveStorageDir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(a.cfg.ArchiveStorageDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return "", err
	}
	log.Printf("Moved snapshot %s to storage\n", path)
	return dest, nil
}

func (a *ArchiveStore) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("Error removing snapshot %s: %s\n", path, err.Error())
	}
}
