package generic

import (
	"encoding/json"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"t7stream/pkg/storage"
)

// Store saves typed objects as JSON under a store group.
type Store struct {
	Group  string
	client storage.Storage
}

func NewStore(root string, group storage.StoreGroup) (*Store, error) {
	client, err := storage.NewFsClient(root, group)
	if err != nil {
		return nil, err
	}
	return &Store{Group: storage.StoreGroupToString[group], client: client}, nil
}

// Save stores obj under id, replacing any previous object.
func (s *Store) Save(id string, obj interface{}) error {
	if err := s.client.Update(id, obj); err != nil {
		return errors.Wrapf(err, "save %s %s", s.Group, id)
	}
	return nil
}

// Load decodes the object stored under id into out.
func (s *Store) Load(id string, out interface{}) error {
	data, err := s.client.Get(id)
	if err != nil {
		return errors.Wrapf(err, "load %s %s", s.Group, id)
	}
	if err = json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "decode %s %s", s.Group, id)
	}
	return nil
}

// List returns the stored ids, newest first.
func (s *Store) List() ([]string, error) {
	files, err := s.client.List()
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", s.Group)
	}
	ids := make([]string, 0, len(files))
	for _, f := range files {
		ids = append(ids, f.Key)
	}
	return ids, nil
}

func (s *Store) Delete(id string) error {
	if err := s.client.Delete(id); err != nil {
		klog.V(2).InfoS("Failed to delete", "group", s.Group, "id", id, "err", err)
		return errors.Wrapf(err, "delete %s %s", s.Group, id)
	}
	return nil
}
