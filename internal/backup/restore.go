package backup

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/nmuller/rosbak/internal/crypto"
)

// ArtifactEncrypted reports whether the file at path carries an
// encryption header.
func ArtifactEncrypted(path string) (bool, error) {
	f, err := os.Open(path) // #nosec G304 - controlled backup storage path
	if err != nil {
		return false, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	head := make([]byte, 8)
	n, err := io.ReadFull(f, head)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read artifact header: %w", err)
	}
	return crypto.IsEncrypted(head[:n]), nil
}

// DecryptArtifact writes the plaintext of the artifact at srcPath to
// dstPath. An encrypted artifact requires the password it was written
// with; an unencrypted one is copied as-is. A failed decryption never
// leaves a partial destination file behind.
func DecryptArtifact(srcPath, dstPath, password string) error {
	src, err := os.Open(srcPath) // #nosec G304 - controlled backup storage path
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	br := bufio.NewReader(src)

	head, err := br.Peek(8)
	if err != nil && err != io.EOF {
		return fmt.Errorf("read artifact header: %w", err)
	}

	var reader io.Reader = br
	if crypto.IsEncrypted(head) {
		if password == "" {
			return fmt.Errorf("artifact is encrypted, a password is required")
		}

		header, err := crypto.ReadEncryptionHeader(br)
		if err != nil {
			return fmt.Errorf("read encryption header: %w", err)
		}

		decryptReader, err := crypto.NewDecryptReader(br, password, header)
		if err != nil {
			return fmt.Errorf("create decryption: %w", err)
		}
		reader = decryptReader
	}

	dst, err := os.Create(dstPath) // #nosec G304 - destination chosen by the caller
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	if _, err := io.Copy(dst, reader); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return fmt.Errorf("decrypt artifact: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return fmt.Errorf("close destination: %w", err)
	}

	return nil
}
