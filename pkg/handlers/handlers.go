// Package handlers stages workflow input files onto the local disk and
// pushes outputs back out. Each handler is selected by the data_type a
// parameter carries: "1" copies files already on this server, "2"
// transfers them over an iRODS connection.
package handlers

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/agdrone/atlana/pkg/log"
	"github.com/agdrone/atlana/pkg/workdir"
)

// Handler data types as they appear in submitted parameters
const (
	DataTypeServerSide = "1"
	DataTypeIRODS      = "2"
)

// ErrNotImplemented is returned for transfers a handler cannot perform
var ErrNotImplemented = errors.New("transfer is not implemented")

// Handler moves one file between a remote location and the local disk
type Handler interface {
	// Name is the handler's display name
	Name() string
	// Get fetches sourcePath to destPath on the local disk
	Get(auth any, sourcePath, destPath string) error
	// Put uploads sourcePath from the local disk to destPath
	Put(auth any, sourcePath, destPath string) error
}

// Registry maps parameter data types to their handlers
type Registry map[string]Handler

// NewRegistry returns the default handler set. The iRODS client may be
// nil, in which case iRODS-typed parameters fail with a clear error.
func NewRegistry(uploadRoot string, moreFolders map[string]string, irodsClient IRODSClient) Registry {
	return Registry{
		DataTypeServerSide: &ServerSide{uploadRoot: uploadRoot, moreFolders: moreFolders},
		DataTypeIRODS:      &IRODS{client: irodsClient},
	}
}

// Lookup returns the handler for a data type
func (r Registry) Lookup(dataType string) (Handler, bool) {
	h, ok := r[dataType]
	return h, ok
}

// ServerSide copies files that already live on this server. Sources are
// resolved under the upload root, except when the first path component
// names one of the configured extra folders.
type ServerSide struct {
	uploadRoot  string
	moreFolders map[string]string
}

// Name implements Handler
func (s *ServerSide) Name() string { return "Server-side" }

// Get implements Handler
func (s *ServerSide) Get(_ any, sourcePath, destPath string) error {
	resolved, err := s.resolve(sourcePath)
	if err != nil {
		return err
	}
	return copyFile(resolved, destPath)
}

// Put implements Handler; server-side uploads are plain copies too
func (s *ServerSide) Put(_ any, sourcePath, destPath string) error {
	resolved, err := s.resolve(destPath)
	if err != nil {
		return err
	}
	return copyFile(sourcePath, resolved)
}

// resolve maps a caller-supplied path onto the local disk, refusing
// anything that escapes the allowed roots
func (s *ServerSide) resolve(path string) (string, error) {
	normalized := filepath.ToSlash(path)
	trimmed := strings.TrimPrefix(normalized, "/")

	if first, rest, found := strings.Cut(trimmed, "/"); found {
		if root, ok := s.moreFolders[first]; ok {
			return workdir.ConfinePath(root, rest)
		}
	}

	resolved, err := workdir.ConfinePath(s.uploadRoot, trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid source path for server side copy: %w", err)
	}
	return resolved, nil
}

func copyFile(sourcePath, destPath string) error {
	in, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", sourcePath, err)
	}
	defer in.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", sourcePath, destPath, err)
	}
	return nil
}

// IRODSAuth is the credential document an iRODS-typed parameter carries
type IRODSAuth struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Zone     string `json:"zone"`
}

// IRODSClient is the transfer side of an iRODS connection. Download
// returns the server's checksum for the fetched object so the local
// copy can be verified.
type IRODSClient interface {
	Download(auth IRODSAuth, sourcePath, destPath string) (checksum string, err error)
}

// DownloadRetries is how many times a fetch with a bad checksum is
// attempted before giving up
var DownloadRetries = 2

// IRODS transfers files over an iRODS connection and verifies each
// download against the server's checksum
type IRODS struct {
	client IRODSClient
}

// Name implements Handler
func (i *IRODS) Name() string { return "iRODS" }

// Get implements Handler
func (i *IRODS) Get(auth any, sourcePath, destPath string) error {
	if i.client == nil {
		return fmt.Errorf("iRODS transfers are not configured")
	}

	parsed, err := parseIRODSAuth(auth)
	if err != nil {
		return err
	}

	logger := log.WithComponent("handlers")
	for attempt := 0; attempt < DownloadRetries; attempt++ {
		remoteChecksum, err := i.client.Download(parsed, sourcePath, destPath)
		if err != nil {
			return fmt.Errorf("iRODS download of %s failed: %w", sourcePath, err)
		}

		localChecksum, err := md5Checksum(destPath)
		if err != nil {
			return err
		}
		if localChecksum == remoteChecksum {
			return nil
		}
		logger.Warn().
			Int("attempt", attempt+1).
			Str("path", sourcePath).
			Msg("bad checksum on downloaded file")
	}

	return fmt.Errorf("iRODS download of %s failed checksum verification", sourcePath)
}

// Put implements Handler
func (i *IRODS) Put(_ any, _, _ string) error {
	return fmt.Errorf("iRODS put: %w", ErrNotImplemented)
}

// parseIRODSAuth accepts either a typed credential or the generic
// document form credentials take after a JSON round trip
func parseIRODSAuth(auth any) (IRODSAuth, error) {
	switch cred := auth.(type) {
	case IRODSAuth:
		return cred, nil
	case *IRODSAuth:
		return *cred, nil
	case map[string]any:
		parsed := IRODSAuth{}
		parsed.Host, _ = cred["host"].(string)
		parsed.User, _ = cred["user"].(string)
		parsed.Password, _ = cred["password"].(string)
		parsed.Zone, _ = cred["zone"].(string)
		switch port := cred["port"].(type) {
		case float64:
			parsed.Port = int(port)
		case int:
			parsed.Port = port
		}
		if parsed.Host == "" || parsed.User == "" {
			return IRODSAuth{}, fmt.Errorf("incomplete iRODS credentials")
		}
		return parsed, nil
	default:
		return IRODSAuth{}, fmt.Errorf("unrecognized iRODS credential format %T", auth)
	}
}

func md5Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for checksum: %w", path, err)
	}
	defer f.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", fmt.Errorf("failed to checksum %s: %w", path, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
