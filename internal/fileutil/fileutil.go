// Package fileutil holds the small file helpers behind ledger persistence:
// verified copies for backups and verified writes for canonical files.
package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrVerifyMismatch reports that a file read back differs from what was written.
var ErrVerifyMismatch = errors.New("read-back mismatch")

// CopyFile replaces dst with the contents of src.
func CopyFile(src, dst string) error {
	_, _, err := copyHashed(src, dst)
	return err
}

// CopyFileVerified copies src to dst, then re-reads dst and compares its size
// and digest with the source. dst is removed when they differ.
func CopyFileVerified(src, dst string) error {
	n, sum, err := copyHashed(src, dst)
	if err != nil {
		return err
	}
	gotN, gotSum, err := digest(dst)
	if err == nil && (gotN != n || !bytes.Equal(gotSum, sum)) {
		err = fmt.Errorf("%w: %s has %d bytes, copied %d", ErrVerifyMismatch, dst, gotN, n)
	}
	if err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}

// WriteVerified writes data to path through a temp file and rename, then
// reads the file back and compares it byte for byte. A missing or differing
// file yields an error wrapping ErrVerifyMismatch.
func WriteVerified(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVerifyMismatch, err)
	}
	if !bytes.Equal(got, data) {
		return fmt.Errorf("%w: %s has %d bytes, expected %d", ErrVerifyMismatch, path, len(got), len(data))
	}
	return nil
}

func copyHashed(src, dst string) (int64, []byte, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, nil, fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, nil, fmt.Errorf("open destination: %w", err)
	}
	h := sha256.New()
	n, err := io.Copy(out, io.TeeReader(in, h))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, nil, fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	return n, h.Sum(nil), nil
}

func digest(path string) (int64, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrVerifyMismatch, err)
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrVerifyMismatch, err)
	}
	return n, h.Sum(nil), nil
}
