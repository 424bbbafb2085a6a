package storage

import (
	"encoding/json"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const fileExt = ".json"

// FsClient keeps one JSON document per key in a directory.
type FsClient struct {
	storePath string
}

var _ Storage = (*FsClient)(nil)

// NewFsClient creates the directory of group under root if needed.
func NewFsClient(root string, sg StoreGroup) (*FsClient, error) {
	group, ok := StoreGroupToString[sg]
	if !ok {
		return nil, errors.Errorf("unsupported store group %d", sg)
	}
	p := filepath.Join(root, group)
	if _, err := os.Stat(p); os.IsNotExist(err) {
		absPath, _ := filepath.Abs(p)
		klog.V(2).InfoS("Created", "path", absPath)
		if err = os.MkdirAll(p, 0711); err != nil {
			return nil, errors.Wrapf(err, "create store %s", p)
		}
	} else if err != nil {
		return nil, errors.Wrapf(err, "stat store %s", p)
	}
	return &FsClient{storePath: p}, nil
}

func (fc *FsClient) path(key string) (string, error) {
	if len(key) == 0 || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", errors.Errorf("invalid key %q", key)
	}
	return filepath.Join(fc.storePath, key+fileExt), nil
}

// Create fails with os.ErrExist when key is already stored.
func (fc *FsClient) Create(key string, obj interface{}) error {
	p, err := fc.path(key)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_RDWR|os.O_EXCL, 0640)
	if err != nil {
		klog.V(2).InfoS("Failed to create file", "err", err)
		return err
	}
	defer f.Close()
	if err = json.NewEncoder(f).Encode(obj); err != nil {
		klog.V(2).InfoS("Failed to encode", "err", err)
		return err
	}
	return nil
}

// Get returns the raw document stored under key.
func (fc *FsClient) Get(key string) ([]byte, error) {
	p, err := fc.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		klog.V(4).InfoS("Failed to read", "err", err)
		return nil, err
	}
	return data, nil
}

// List returns the stored documents, newest first.
func (fc *FsClient) List() ([]*FileInfo, error) {
	entries, err := os.ReadDir(fc.storePath)
	if err != nil {
		klog.V(2).InfoS("Failed to list", "err", err)
		return nil, err
	}
	files := make([]*FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, &FileInfo{
			Key:     strings.TrimSuffix(e.Name(), fileExt),
			Path:    filepath.Join(fc.storePath, e.Name()),
			ModTime: info.ModTime(),
		})
	}
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})
	return files, nil
}

// Update replaces the document under key, creating it if needed. The new
// document is written aside and renamed into place.
func (fc *FsClient) Update(key string, obj interface{}) error {
	p, err := fc.path(key)
	if err != nil {
		return err
	}
	data, err := json.Marshal(obj)
	if err != nil {
		klog.V(2).InfoS("Failed to marshal", "err", err)
		return err
	}
	tmp, err := os.CreateTemp(fc.storePath, "."+key+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), p); err != nil {
		klog.V(2).InfoS("Failed to replace", "err", err)
		return err
	}
	return nil
}

func (fc *FsClient) Delete(key string) error {
	p, err := fc.path(key)
	if err != nil {
		return err
	}
	if err = os.Remove(p); err != nil {
		klog.V(2).InfoS("Failed to remove", "err", err)
		return err
	}
	return nil
}
