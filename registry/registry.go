// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package registry maps client public keys to durable identities, and
// each identity to its directory in the image cache:
//
//	<root>/<id>/pubkey.pem
//	<root>/<id>/disk.img
//	<root>/<id>/client-info
//	<root>/<id>/mntdir/
//
// The public key record is written last, so an entry without one is
// a creation that never finished. Such entries are ignored.
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/u-root/diskless/fault"
	"github.com/u-root/diskless/image"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/singleflight"
)

var v = func(string, ...interface{}) {}

// SetVerbose sets the verbose printer.
func SetVerbose(f func(string, ...interface{})) {
	v = f
}

const (
	pubKeyFile = "pubkey.pem"
	imageFile  = "disk.img"
	infoFile   = "client-info"
	mountDir   = "mntdir"
)

// ID names a client. It is 32 lower case hex digits.
type ID string

var idRE = regexp.MustCompile(`^[0-9a-f]{32}$`)

// ParseID checks that s is a well formed ID.
func ParseID(s string) (ID, error) {
	if !idRE.MatchString(s) {
		return "", fault.Protocolf("registry.ParseID", "%q is not a client id", s)
	}
	return ID(s), nil
}

func newID() ID {
	return ID(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// Metadata is what is known about a client.
type Metadata struct {
	// Hostname is empty if the client never set one.
	Hostname string
	// Capacity is the size of the client's image. It is read from
	// the image, never stored.
	Capacity int64
	// PublicKey is the client's key record.
	PublicKey []byte
}

// Entry is the cache directory of one client.
type Entry string

// Dir returns the directory itself.
func (e Entry) Dir() string { return string(e) }

// PublicKeyFile returns the path of the key record.
func (e Entry) PublicKeyFile() string { return filepath.Join(string(e), pubKeyFile) }

// ImageFile returns the path of the disk image.
func (e Entry) ImageFile() string { return filepath.Join(string(e), imageFile) }

// InfoFile returns the path of the metadata file.
func (e Entry) InfoFile() string { return filepath.Join(string(e), infoFile) }

// MountDir returns where the image is mounted.
func (e Entry) MountDir() string { return filepath.Join(string(e), mountDir) }

// Registry is the set of known clients. It is safe for concurrent use.
type Registry struct {
	root        string
	images      *image.Store
	initialSize int64
	newID       func() ID

	flight singleflight.Group

	mu    sync.Mutex
	index map[digest.Digest]ID
	keys  map[ID][]byte
}

// Open opens the cache at root, creating it if needed. New images are
// created by images with initialSize bytes.
func Open(root string, images *image.Store, initialSize int64) (*Registry, error) {
	const op = "registry.Open"
	if initialSize <= 0 {
		return nil, fault.Internalf(op, "initial image size %d", initialSize)
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fault.New(fault.Operational, op, err)
	}
	r := &Registry{
		root:        root,
		images:      images,
		initialSize: initialSize,
		newID:       newID,
		index:       map[digest.Digest]ID{},
		keys:        map[ID][]byte{},
	}
	dirs, err := os.ReadDir(root)
	if err != nil {
		return nil, fault.New(fault.Operational, op, err)
	}
	for _, d := range dirs {
		id, err := ParseID(d.Name())
		if err != nil || !d.IsDir() {
			v("registry: ignoring %q", d.Name())
			continue
		}
		key, err := os.ReadFile(r.Entry(id).PublicKeyFile())
		if err != nil {
			v("registry: skipping %q: %v", id, err)
			continue
		}
		dg := digest.FromBytes(key)
		if old, ok := r.index[dg]; ok {
			v("registry: %q has the same key as %q, ignoring it", id, old)
			continue
		}
		r.index[dg] = id
		r.keys[id] = key
	}
	v("registry: %d clients in %q", len(r.keys), root)
	return r, nil
}

// Entry returns the cache directory of id.
func (r *Registry) Entry(id ID) Entry {
	return Entry(filepath.Join(r.root, string(id)))
}

func (r *Registry) lookup(key []byte) (ID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.index[digest.FromBytes(key)]
	if !ok || !bytes.Equal(r.keys[id], key) {
		return "", false
	}
	return id, true
}

type resolved struct {
	id      ID
	created bool
}

// Resolve returns the identity of the client with public key record
// key, creating it with a fresh image if the key is new. created
// reports whether this call, or a concurrent one it joined, created
// the identity.
func (r *Registry) Resolve(ctx context.Context, key []byte) (ID, bool, error) {
	if len(key) == 0 {
		return "", false, fault.Protocolf("registry.Resolve", "empty public key")
	}
	if id, ok := r.lookup(key); ok {
		return id, false, nil
	}
	res, err, _ := r.flight.Do(digest.FromBytes(key).String(), func() (interface{}, error) {
		// Someone may have finished creating it while we waited.
		if id, ok := r.lookup(key); ok {
			return resolved{id: id}, nil
		}
		// Callers that joined the flight must not fail because the
		// first one hung up; commands are bounded by their runner.
		id, err := r.create(context.WithoutCancel(ctx), key)
		if err != nil {
			return nil, err
		}
		return resolved{id: id, created: true}, nil
	})
	if err != nil {
		return "", false, err
	}
	rs := res.(resolved)
	return rs.id, rs.created, nil
}

func (r *Registry) create(ctx context.Context, key []byte) (id ID, err error) {
	const op = "registry.Resolve"
	id = r.newID()
	e := r.Entry(id)
	// Mkdir fails if the directory is there, so two creations can
	// never share an entry.
	if err := os.Mkdir(e.Dir(), 0o700); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fault.Internalf(op, "identity %q already exists", id)
		}
		return "", fault.New(fault.Operational, op, err)
	}
	defer func() {
		if err != nil {
			if rerr := os.RemoveAll(e.Dir()); rerr != nil {
				v("registry: removing partial %q: %v", e.Dir(), rerr)
			}
		}
	}()

	v("registry: creating %q", id)
	if err := r.images.Create(ctx, e.ImageFile(), r.initialSize); err != nil {
		return "", err
	}
	if err := os.WriteFile(e.InfoFile(), nil, 0o644); err != nil {
		return "", fault.New(fault.Operational, op, err)
	}
	if err := os.Mkdir(e.MountDir(), 0o755); err != nil {
		return "", fault.New(fault.Operational, op, err)
	}
	if err := writeFile(e.PublicKeyFile(), key, 0o644); err != nil {
		return "", fault.New(fault.Operational, op, err)
	}

	r.mu.Lock()
	r.index[digest.FromBytes(key)] = id
	r.keys[id] = append([]byte(nil), key...)
	r.mu.Unlock()
	return id, nil
}

// List returns every known identity, sorted.
func (r *Registry) List() []ID {
	r.mu.Lock()
	ids := make([]ID, 0, len(r.keys))
	for id := range r.keys {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	slices.Sort(ids)
	return ids
}

func (r *Registry) known(op string, id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[id]; !ok {
		return fault.Businessf(op, "no client %q", id)
	}
	return nil
}

var hostnameRE = regexp.MustCompile(`(?m)^hostname = (.*)$`)

// LoadMetadata reads the metadata of id.
func (r *Registry) LoadMetadata(id ID) (*Metadata, error) {
	const op = "registry.LoadMetadata"
	if err := r.known(op, id); err != nil {
		return nil, err
	}
	e := r.Entry(id)
	b, err := os.ReadFile(e.InfoFile())
	if err != nil {
		return nil, fault.New(fault.Operational, op, err)
	}
	md := &Metadata{}
	if m := hostnameRE.FindSubmatch(b); m != nil {
		md.Hostname = string(m[1])
	}
	if md.Capacity, err = r.images.Size(e.ImageFile()); err != nil {
		return nil, err
	}
	if md.PublicKey, err = os.ReadFile(e.PublicKeyFile()); err != nil {
		return nil, fault.New(fault.Operational, op, err)
	}
	return md, nil
}

// SaveMetadata stores the persistent part of md for id.
func (r *Registry) SaveMetadata(id ID, md *Metadata) error {
	const op = "registry.SaveMetadata"
	if err := r.known(op, id); err != nil {
		return err
	}
	if strings.ContainsAny(md.Hostname, "\r\n") {
		return fault.Protocolf(op, "hostname %q has a line break", md.Hostname)
	}
	b := fmt.Sprintf("hostname = %s\n", md.Hostname)
	return fault.New(fault.Operational, op, writeFile(r.Entry(id).InfoFile(), []byte(b), 0o644))
}

// writeFile replaces name with data in one rename.
func writeFile(name string, data []byte, perm os.FileMode) error {
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, name)
}
