package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"dmchat/tools/errs"
)

const maxNameAttempts = 100

var ErrBadReference = errs.New("bad attachment reference")

// DiskAttachmentStore writes attachments as flat files under one directory.
// The reference is the file name, served by the gateway under the uploads route.
type DiskAttachmentStore struct {
	dir string
}

func NewDiskAttachmentStore(dir string) (*DiskAttachmentStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.WrapMsg(err, "create uploads dir", "dir", dir)
	}
	return &DiskAttachmentStore{dir: dir}, nil
}

func (s *DiskAttachmentStore) Dir() string { return s.dir }

// Put never overwrites: on collision it retries with "<stem>-<n><ext>".
func (s *DiskAttachmentStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := checkRef(name); err != nil {
		return "", err
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := name
	for i := 1; i <= maxNameAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		err := s.writeExclusive(candidate, data)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", errs.WrapMsg(err, "write attachment", "name", candidate)
		}
		candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
	return "", errs.New("no free attachment name", "name", name).Wrap()
}

func (s *DiskAttachmentStore) writeExclusive(name string, data []byte) error {
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return err
	}
	return f.Close()
}

// Delete is a no-op for references that no longer exist.
func (s *DiskAttachmentStore) Delete(_ context.Context, ref string) error {
	if err := checkRef(ref); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.dir, ref))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errs.WrapMsg(err, "remove attachment", "ref", ref)
	}
	return nil
}

// checkRef keeps references flat so they cannot escape the uploads dir.
func checkRef(ref string) error {
	if ref == "" || ref == "." || ref == ".." || strings.ContainsAny(ref, `/\`) {
		return ErrBadReference.WrapMsg("", "ref", ref)
	}
	return nil
}
