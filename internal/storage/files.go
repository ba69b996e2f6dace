// Package storage puts uploaded records on local disk with size, extension,
// and optional virus checks. The returned metadata feeds the response
// registry's file variant.
package storage

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrTooLarge rejects an upload above the configured maximum.
	ErrTooLarge = errors.New("file exceeds maximum size")
	// ErrTooSmall rejects an empty or below-minimum upload.
	ErrTooSmall = errors.New("file below minimum size")
	// ErrDisallowedExtension rejects an extension outside the allow-list.
	ErrDisallowedExtension = errors.New("file extension not allowed")
	// ErrVirusFound rejects an upload flagged by the scanner hook.
	ErrVirusFound = errors.New("virus detected in file")
)

// Scanner is an optional hook run on stored bytes before they are
// accepted. Return an error to reject the upload.
type Scanner func(path string) error

// Config bounds uploads.
type Config struct {
	Directory         string
	MinBytes          int64
	MaxBytes          int64
	AllowedExtensions []string
}

// StoredFile describes one accepted upload.
type StoredFile struct {
	ID       string
	Name     string
	Size     int64
	MimeType string
}

// Store writes uploads under a per-request directory.
type Store struct {
	cfg     Config
	scanner Scanner
	log     zerolog.Logger
}

// NewStore creates a new file store
func NewStore(cfg Config, scanner Scanner, log zerolog.Logger) *Store {
	return &Store{cfg: cfg, scanner: scanner, log: log}
}

func (s *Store) extensionAllowed(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return false
	}
	for _, allowed := range s.cfg.AllowedExtensions {
		if ext == strings.TrimPrefix(strings.ToLower(allowed), ".") {
			return true
		}
	}
	return false
}

// Save validates and stores one upload, returning its metadata. The file is
// written under <dir>/<requestID>/<uuid>_<name>; a failed check removes any
// partial write.
func (s *Store) Save(requestID, filename string, r io.Reader) (*StoredFile, error) {
	if !s.extensionAllowed(filename) {
		return nil, fmt.Errorf("%w: %s", ErrDisallowedExtension, filepath.Ext(filename))
	}

	dir := filepath.Join(s.cfg.Directory, requestID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	id := uuid.NewString()
	name := filepath.Base(filename)
	path := filepath.Join(dir, id+"_"+name)

	out, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}

	// Copy one byte past the cap so oversize uploads are detected without
	// buffering the whole stream.
	size, err := io.Copy(out, io.LimitReader(r, s.cfg.MaxBytes+1))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}
	if size > s.cfg.MaxBytes {
		os.Remove(path)
		return nil, fmt.Errorf("%w: limit %d bytes", ErrTooLarge, s.cfg.MaxBytes)
	}
	if size < s.cfg.MinBytes {
		os.Remove(path)
		return nil, fmt.Errorf("%w: minimum %d bytes", ErrTooSmall, s.cfg.MinBytes)
	}

	if s.scanner != nil {
		if scanErr := s.scanner(path); scanErr != nil {
			os.Remove(path)
			return nil, fmt.Errorf("%w: %s", ErrVirusFound, name)
		}
	}

	mime, err := detectMime(path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	s.log.Info().Str("request_id", requestID).Str("file", name).
		Int64("size", size).Msg("upload stored")
	return &StoredFile{ID: id, Name: name, Size: size, MimeType: mime}, nil
}

// Open returns a reader for a stored file.
func (s *Store) Open(requestID, id, name string) (io.ReadCloser, error) {
	path := filepath.Join(s.cfg.Directory, requestID, id+"_"+name)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open stored file: %w", err)
	}
	return f, nil
}

// Remove deletes a stored file from disk. The response row's soft delete is
// the caller's job.
func (s *Store) Remove(requestID, id, name string) error {
	path := filepath.Join(s.cfg.Directory, requestID, id+"_"+name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stored file: %w", err)
	}
	return nil
}

func detectMime(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to reopen upload: %w", err)
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to sniff mime type: %w", err)
	}
	return http.DetectContentType(buf[:n]), nil
}
