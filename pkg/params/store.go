package params

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"quantum-rover/pkg/log"
	"quantum-rover/pkg/roverrs"
)

const (
	paramFile   = "parameters.dat"
	networkFile = "network.dat"
)

// Store persists checksummed records under a single directory. Writes are
// atomic: serialize to a temp file, fsync, rename over the live record.
type Store struct {
	dir    string
	logger *log.Logger
}

// NewStore creates a Store rooted at dir, creating it if necessary.
func NewStore(dir string, logger *log.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, roverrs.Wrap(err, roverrs.ErrPersistence, "create store directory")
	}
	if logger == nil {
		logger = log.GetLogger("store")
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes the parameter record atomically.
func (s *Store) Save(p RuntimeParameters) error {
	data, err := EncodeRecord(p)
	if err != nil {
		return err
	}
	if err := s.writeAtomic(paramFile, data); err != nil {
		return err
	}
	s.logger.WithField("bytes", len(data)).Info("parameters saved")
	return nil
}

// Load reads and verifies the parameter record. A missing, truncated, or
// corrupt record is reported and replaced by compiled-in defaults; the
// returned bool says whether the persisted record was used.
func (s *Store) Load() (RuntimeParameters, bool) {
	data, err := os.ReadFile(filepath.Join(s.dir, paramFile))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.WithError(err).Warn("parameter record unreadable, using defaults")
		}
		return Defaults(), false
	}
	p, err := DecodeRecord(data)
	if err != nil {
		s.logger.WithError(err).Warn("parameter record rejected, using defaults")
		return Defaults(), false
	}
	s.logger.Info("parameters loaded")
	return p, true
}

// SaveNetwork writes the bridge network config atomically.
func (s *Store) SaveNetwork(nc NetworkConfig) error {
	data, err := EncodeNetworkRecord(nc)
	if err != nil {
		return err
	}
	if err := s.writeAtomic(networkFile, data); err != nil {
		return err
	}
	s.logger.Info("network config saved")
	return nil
}

// LoadNetwork reads and verifies the bridge network config, falling back to
// defaults on any failure.
func (s *Store) LoadNetwork() (NetworkConfig, bool) {
	data, err := os.ReadFile(filepath.Join(s.dir, networkFile))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.WithError(err).Warn("network record unreadable, using defaults")
		}
		return DefaultNetworkConfig(), false
	}
	nc, err := DecodeNetworkRecord(data)
	if err != nil {
		s.logger.WithError(err).Warn("network record rejected, using defaults")
		return DefaultNetworkConfig(), false
	}
	return nc, true
}

func (s *Store) writeAtomic(name string, data []byte) error {
	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp*")
	if err != nil {
		return roverrs.Wrap(err, roverrs.ErrPersistence, "create temp record")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return roverrs.Wrap(err, roverrs.ErrPersistence, "write record")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return roverrs.Wrap(err, roverrs.ErrPersistence, "sync record")
	}
	if err := tmp.Close(); err != nil {
		return roverrs.Wrap(err, roverrs.ErrPersistence, "close record")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return roverrs.Wrap(err, roverrs.ErrPersistence, "commit record")
	}
	return nil
}
