package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFileName is the integrity manifest written next to config.yaml.
const ChecksumFileName = ".checksums"

const (
	manifestVersion   = 2
	manifestAlgorithm = "blake3"
)

var (
	// ErrNoManifest means no .checksums file exists; verification is off.
	ErrNoManifest = errors.New("no checksum manifest")
	// ErrHashMismatch means a file changed since it was locked.
	ErrHashMismatch = errors.New("hash mismatch")
)

// Manifest is the on-disk format of the .checksums file.
type Manifest struct {
	Version     int               `yaml:"version"`
	Algorithm   string            `yaml:"algorithm"`
	GeneratedAt time.Time         `yaml:"generated_at"`
	Files       map[string]string `yaml:"files"`
}

// LockFileResult is the lock outcome for one file.
type LockFileResult struct {
	Filename string
	Path     string
	Exists   bool
	Hash     string
}

// LockReport describes what Lock hashed and where the manifest goes.
type LockReport struct {
	ConfigDir    string
	ChecksumPath string
	Written      bool
	Files        []LockFileResult
}

// HashFile streams path through BLAKE3 and returns the hex digest.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFile checks path against want. A changed file yields an error
// wrapping ErrHashMismatch.
func VerifyFile(path, want string) error {
	got, err := HashFile(path)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w for %s: locked %s, now %s", ErrHashMismatch, filepath.Base(path), short(want), short(got))
	}
	return nil
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// Lock hashes the named files in configDir and, unless dryRun is set,
// atomically replaces .checksums. Missing files are reported and skipped.
func Lock(configDir string, files []string, dryRun bool) (*LockReport, error) {
	m := Manifest{
		Version:     manifestVersion,
		Algorithm:   manifestAlgorithm,
		GeneratedAt: time.Now().UTC().Truncate(time.Second),
		Files:       make(map[string]string, len(files)),
	}
	report := &LockReport{
		ConfigDir:    configDir,
		ChecksumPath: filepath.Join(configDir, ChecksumFileName),
	}

	for _, name := range files {
		res := LockFileResult{Filename: name, Path: filepath.Join(configDir, name)}
		hash, err := HashFile(res.Path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			res.Exists, res.Hash = true, hash
			m.Files[name] = hash
		}
		report.Files = append(report.Files, res)
	}

	if dryRun {
		return report, nil
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	tmp, err := os.CreateTemp(configDir, ChecksumFileName+".*")
	if err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	// CreateTemp already uses 0600.
	if err := os.Rename(tmp.Name(), report.ChecksumPath); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	report.Written = true
	return report, nil
}

// ReadManifest loads .checksums from configDir. It returns ErrNoManifest when
// the file does not exist.
func ReadManifest(configDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(configDir, ChecksumFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoManifest
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Version != manifestVersion || m.Algorithm != manifestAlgorithm {
		return nil, fmt.Errorf("unsupported manifest (version %d, algorithm %q); run 'macrogw config lock'", m.Version, m.Algorithm)
	}
	return &m, nil
}
