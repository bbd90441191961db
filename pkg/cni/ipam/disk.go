package ipam

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

// DefaultDataDir is the conventional CNI host-local IPAM data directory.
const DefaultDataDir = "/var/lib/cni/networks"

const lockFileName = "ipam.lock"

// Store is a host-local, file-backed IP allocator. One Store per data
// directory; the on-disk flock serializes reserve/release across every
// process on the host, including concurrent agents sharing one data dir.
type Store struct {
	dataDir string
}

func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		dataDir = DefaultDataDir
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, apis.WithKind(apis.ErrResource, "ipam mkdir "+dataDir, err)
	}
	return &Store{dataDir: dataDir}, nil
}

func (s *Store) addrFile(ip net.IP) string {
	return filepath.Join(s.dataDir, ip.String())
}

func (s *Store) lastReservedFile(rangeID string) string {
	return filepath.Join(s.dataDir, "last_reserved_ip_"+rangeID)
}

// withLock takes an exclusive, non-blocking flock on <data_dir>/ipam.lock.
// Only the address file uses O_CREAT|O_EXCL; the lock file itself must NOT
// be O_TRUNC'd on every open, or concurrent holders could race on its
// content — it is opened O_CREAT|O_RDWR only, and re-acquirable once the
// holder closes or exits.
func (s *Store) withLock(fn func() error) error {
	lockPath := filepath.Join(s.dataDir, lockFileName)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return apis.WithKind(apis.ErrResource, "ipam open lock", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return apis.WithKind(apis.ErrResource, "ipam flock", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	return fn()
}

// Reserve creates <data_dir>/<ip> with O_CREAT|O_EXCL, body "<id>\r\n<ifname>",
// under the exclusive lock. Returns false (not an error) if the address is
// already held by someone; reserve, release, reserve again must always
// succeed for the same address.
func (s *Store) Reserve(id, ifname string, ip net.IP, rangeID string) (bool, error) {
	var ok bool
	err := s.withLock(func() error {
		path := s.addrFile(ip)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err != nil {
			if os.IsExist(err) {
				ok = false
				return nil
			}
			return apis.WithKind(apis.ErrResource, "ipam create "+path, err)
		}
		defer f.Close()
		if _, err := fmt.Fprintf(f, "%s\r\n%s", id, ifname); err != nil {
			return apis.WithKind(apis.ErrResource, "ipam write "+path, err)
		}
		if err := os.WriteFile(s.lastReservedFile(rangeID), []byte(ip.String()), 0o600); err != nil {
			return apis.WithKind(apis.ErrResource, "ipam last-reserved "+rangeID, err)
		}
		ok = true
		return nil
	})
	return ok, err
}

// LastReservedIP returns the last handed-out address for rangeID, or nil if
// none has been reserved yet — the basis for round-robin allocation.
func (s *Store) LastReservedIP(rangeID string) (net.IP, error) {
	data, err := os.ReadFile(s.lastReservedFile(rangeID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apis.WithKind(apis.ErrResource, "ipam read last-reserved", err)
	}
	ip := net.ParseIP(strings.TrimSpace(string(data)))
	if ip == nil {
		return nil, apis.WithKind(apis.ErrStateInconsistency, "ipam last-reserved",
			fmt.Errorf("corrupt last_reserved_ip file for range %s", rangeID))
	}
	return ip, nil
}

// GetByID scans the directory, skipping last_reserved_ip_* files, and
// returns every address whose content matches (id, ifname).
func (s *Store) GetByID(id, ifname string) ([]net.IP, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, apis.WithKind(apis.ErrResource, "ipam readdir", err)
	}
	var ips []net.IP
	for _, e := range entries {
		if e.IsDir() || e.Name() == lockFileName || strings.HasPrefix(e.Name(), "last_reserved_ip_") {
			continue
		}
		ip := net.ParseIP(e.Name())
		if ip == nil {
			continue
		}
		holderID, holderIf, err := readAddrFile(filepath.Join(s.dataDir, e.Name()))
		if err != nil {
			continue
		}
		if holderID == id && holderIf == ifname {
			ips = append(ips, ip)
		}
	}
	return ips, nil
}

// ReleaseByID deletes every address file matching (id, ifname), under the
// lock, and returns true iff at least one was removed. It does not stop at
// the first removal failure: every file matching (id, ifname) is attempted,
// and any failures are aggregated into the returned error so a caller can
// tell whether the release was only partial.
func (s *Store) ReleaseByID(id, ifname string) (bool, error) {
	var released bool
	err := s.withLock(func() error {
		entries, err := os.ReadDir(s.dataDir)
		if err != nil {
			return apis.WithKind(apis.ErrResource, "ipam readdir", err)
		}
		var errs error
		for _, e := range entries {
			if e.IsDir() || e.Name() == lockFileName || strings.HasPrefix(e.Name(), "last_reserved_ip_") {
				continue
			}
			path := filepath.Join(s.dataDir, e.Name())
			holderID, holderIf, err := readAddrFile(path)
			if err != nil {
				continue
			}
			if holderID != id || holderIf != ifname {
				continue
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				errs = multierr.Append(errs, apis.WithKind(apis.ErrResource, "ipam remove "+path, err))
				continue
			}
			released = true
		}
		return errs
	})
	return released, err
}

func readAddrFile(path string) (id, ifname string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	parts := strings.SplitN(string(data), "\r\n", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed address file %s", path)
	}
	return parts[0], parts[1], nil
}
