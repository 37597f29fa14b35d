package dispatch

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultTenant is the directory entry used when a store has none.
const DefaultTenant = "default"

// ContactKind selects the address type in a directory entry.
type ContactKind string

const (
	ContactEmail ContactKind = "email"
	ContactPhone ContactKind = "phone"
)

// Contact holds the addresses of one store.
type Contact struct {
	Email string `yaml:"email"`
	Phone string `yaml:"phone"`
}

func (c Contact) get(kind ContactKind) string {
	switch kind {
	case ContactEmail:
		return c.Email
	case ContactPhone:
		return c.Phone
	}
	return ""
}

// Directory maps store ids to contact addresses. It is safe for concurrent
// lookups while a watcher swaps in reloaded contacts.
type Directory struct {
	mu       sync.RWMutex
	contacts map[string]Contact
	fallback *Contact
}

type directoryFile struct {
	Contacts map[string]Contact `yaml:"contacts"`
}

// NewDirectory builds a directory from an in-memory map.
func NewDirectory(contacts map[string]Contact) *Directory {
	d := &Directory{contacts: make(map[string]Contact, len(contacts))}
	for k, v := range contacts {
		d.contacts[k] = v
	}
	return d
}

// ParseDirectory reads the YAML form:
//
//	contacts:
//	  default: {email: manager@store.com, phone: "+1234567890"}
//	  store_1: {email: store1@store.com}
func ParseDirectory(data []byte) (*Directory, error) {
	var f directoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse contacts: %w", err)
	}
	return NewDirectory(f.Contacts), nil
}

// LoadDirectory reads a contacts file from disk.
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contacts %s: %w", path, err)
	}
	return ParseDirectory(data)
}

// WithDefault sets the fallback entry when the directory has none. The
// fallback also applies to contacts swapped in later.
func (d *Directory) WithDefault(c Contact) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = &c
	if _, ok := d.contacts[DefaultTenant]; !ok {
		d.contacts[DefaultTenant] = c
	}
	return d
}

// replace swaps in the contacts of next, keeping this directory's fallback.
func (d *Directory) replace(next *Directory) {
	next.mu.RLock()
	contacts := make(map[string]Contact, len(next.contacts)+1)
	for k, v := range next.contacts {
		contacts[k] = v
	}
	next.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := contacts[DefaultTenant]; !ok && d.fallback != nil {
		contacts[DefaultTenant] = *d.fallback
	}
	d.contacts = contacts
}

// Len returns the number of entries, including the default.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.contacts)
}

// Lookup returns the store's address of the given kind, falling back to the
// default entry when the store is unknown or has no such address.
func (d *Directory) Lookup(tenant string, kind ContactKind) (string, bool) {
	if d == nil {
		return "", false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if c, ok := d.contacts[tenant]; ok {
		if v := c.get(kind); v != "" {
			return v, true
		}
	}
	if v := d.contacts[DefaultTenant].get(kind); v != "" {
		return v, true
	}
	return "", false
}
