package storage

import (
	"os"
	"path/filepath"
	"time"
)

type StoreGroup byte

const (
	StoreGroupSession StoreGroup = iota
	StoreGroupCalibration
)

var (
	StoreGroupToString = map[StoreGroup]string{
		StoreGroupSession:     "sessions",
		StoreGroupCalibration: "calibrations",
	}
)

type Getter interface {
	Get(key string) ([]byte, error)
}

type Lister interface {
	List() ([]*FileInfo, error)
}

type Creater interface {
	Create(key string, obj interface{}) error
}

type Updater interface {
	Update(key string, obj interface{}) error
}

type Deleter interface {
	Delete(key string) error
}

type Storage interface {
	Getter
	Lister
	Creater
	Updater
	Deleter
}

type FileInfo struct {
	Key     string
	Path    string
	ModTime time.Time
}

// DefaultStorePath is the state directory used when none is configured.
func DefaultStorePath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".t7stream")
	}
	return ".t7stream"
}
