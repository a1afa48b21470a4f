package backup

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/kjk/kvs/log"
	"github.com/kjk/kvs/u"
	"github.com/melbahja/goph"
	"github.com/pkg/sftp"
)

type SFTPConfig struct {
	User string
	Host string
	// directory on the server where backups are uploaded
	Dir string
	// path of ssh private key, can start with ~
	PrivateKeyPath string
}

// ParseSFTPRemote parses remote in "user@host:/dir" format
func ParseSFTPRemote(remote string, keyPath string) (*SFTPConfig, error) {
	user, rest, ok := strings.Cut(remote, "@")
	if !ok || user == "" {
		return nil, fmt.Errorf("invalid remote '%s', expected user@host:/dir", remote)
	}
	host, dir, ok := strings.Cut(rest, ":")
	if !ok || host == "" || dir == "" {
		return nil, fmt.Errorf("invalid remote '%s', expected user@host:/dir", remote)
	}
	return &SFTPConfig{
		User:           user,
		Host:           host,
		Dir:            dir,
		PrivateKeyPath: keyPath,
	}, nil
}

func sftpFileNotExists(client *sftp.Client, path string) error {
	_, err := client.Stat(path)
	if err == nil {
		return fmt.Errorf("file '%s' already exists on the server: %w", path, os.ErrExist)
	}
	return nil
}

// UploadSFTP uploads a local backup file to c.Dir on the server.
// It doesn't overwrite existing files. Returns the remote path
func UploadSFTP(c *SFTPConfig, localPath string) (string, error) {
	keyPath := u.ExpandTildeInPath(c.PrivateKeyPath)
	if !u.FileExists(keyPath) {
		return "", fmt.Errorf("key file '%s' doesn't exist", keyPath)
	}
	auth, err := goph.Key(keyPath, "")
	if err != nil {
		return "", fmt.Errorf("goph.Key() failed with '%w'", err)
	}
	client, err := goph.New(c.User, c.Host, auth)
	if err != nil {
		return "", fmt.Errorf("goph.New() failed with '%w'", err)
	}
	defer client.Close()

	sc, err := client.NewSftp()
	if err != nil {
		return "", fmt.Errorf("client.NewSftp() failed with '%w'", err)
	}
	defer sc.Close()

	if err = sc.MkdirAll(c.Dir); err != nil {
		return "", fmt.Errorf("sftp.MkdirAll('%s') failed with '%w'", c.Dir, err)
	}
	remotePath := path.Join(c.Dir, filepath.Base(localPath))
	if err = sftpFileNotExists(sc, remotePath); err != nil {
		return "", err
	}

	sizeStr := u.FormatSize(u.FileSize(localPath))
	timeStart := time.Now()
	if err = client.Upload(localPath, remotePath); err != nil {
		return "", fmt.Errorf("client.Upload() failed with '%w'", err)
	}
	log.Verbosef("backup: uploaded '%s' (%s) to %s:%s in %s\n", localPath, sizeStr, c.Host, remotePath, time.Since(timeStart))
	log.Event("kvs.backup.sftp", "host", c.Host, "remote", remotePath)
	return remotePath, nil
}
