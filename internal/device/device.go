// Package device resolves the stable opaque identifier notes are filed under.
package device

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Origin records which rule produced an identifier.
type Origin string

const (
	OriginConfig    Origin = "config"
	OriginMachineID Origin = "machine-id"
	OriginStored    Origin = "stored"
	OriginGenerated Origin = "generated"
)

// DefaultMachineIDPaths are checked in order for a host identifier.
var DefaultMachineIDPaths = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// namespace scopes hashed machine ids so notecap never exposes the raw value.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/rbright/notecap/device"))

// Resolver applies the override, machine id, and stored id rules in order.
type Resolver struct {
	Fs             afero.Fs
	Override       string
	MachineIDPaths []string
	StatePath      string
}

// Identity is a resolved device identifier.
type Identity struct {
	ID     string
	Origin Origin
}

// Resolve returns the first identifier the rules produce. A random id is
// generated and stored when nothing else is available.
func (r Resolver) Resolve() (Identity, error) {
	if id := strings.TrimSpace(r.Override); id != "" {
		return Identity{ID: id, Origin: OriginConfig}, nil
	}

	fs := r.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	for _, path := range r.machineIDPaths() {
		raw, err := afero.ReadFile(fs, path)
		if err != nil {
			continue
		}
		machineID := strings.TrimSpace(string(raw))
		if machineID == "" {
			continue
		}
		return Identity{ID: uuid.NewSHA1(namespace, []byte(machineID)).String(), Origin: OriginMachineID}, nil
	}

	if r.StatePath == "" {
		return Identity{}, errors.New("device id: no machine id and no state path")
	}

	raw, err := afero.ReadFile(fs, r.StatePath)
	if err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			return Identity{ID: id, Origin: OriginStored}, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Identity{}, fmt.Errorf("read device id %q: %w", r.StatePath, err)
	}

	id := uuid.NewString()
	if err := fs.MkdirAll(filepath.Dir(r.StatePath), 0o700); err != nil {
		return Identity{}, fmt.Errorf("create state dir: %w", err)
	}
	if err := afero.WriteFile(fs, r.StatePath, []byte(id+"\n"), 0o600); err != nil {
		return Identity{}, fmt.Errorf("store device id: %w", err)
	}
	return Identity{ID: id, Origin: OriginGenerated}, nil
}

func (r Resolver) machineIDPaths() []string {
	if r.MachineIDPaths != nil {
		return r.MachineIDPaths
	}
	return DefaultMachineIDPaths
}
