package subscription

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/djlord-it/findingsd/internal/domain"
)

// FileError reports a subscription file that could not be loaded.
type FileError struct {
	File string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e FileError) Unwrap() error { return e.Err }

// LoadErrors lists every file that failed to load.
type LoadErrors []FileError

func (e LoadErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d subscription files failed to load:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// IsSubscriptionFile reports whether name has a .yml or .yaml extension.
func IsSubscriptionFile(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".yml", ".yaml":
		return true
	}
	return false
}

// LoadDir loads every subscription file of dir. See LoadFS.
func LoadDir(dir string) ([]domain.Subscription, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrap(err, "subscriptions directory")
	}
	if !info.IsDir() {
		return nil, errors.Errorf("subscriptions directory: %s is not a directory", dir)
	}
	return LoadFS(os.DirFS(dir), ".")
}

// LoadFS loads the subscription files directly under dir in lexical order.
// Valid subscriptions are returned even when other files fail, in which
// case the error is a LoadErrors. Duplicate names are rejected.
func LoadFS(fsys fs.FS, dir string) ([]domain.Subscription, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, errors.Wrap(err, "read subscriptions directory")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var (
		subs []domain.Subscription
		errs LoadErrors
	)
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !IsSubscriptionFile(entry.Name()) {
			continue
		}
		name := entry.Name()

		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			errs = append(errs, FileError{File: name, Err: err})
			continue
		}
		sub, err := Parse(data)
		if err == nil {
			err = Validate(sub)
		}
		if err != nil {
			errs = append(errs, FileError{File: name, Err: err})
			continue
		}
		if other, dup := seen[sub.Name]; dup {
			errs = append(errs, FileError{File: name, Err: errors.Errorf("subscription %q already defined in %s", sub.Name, other)})
			continue
		}
		seen[sub.Name] = name
		subs = append(subs, sub)
	}

	if len(errs) > 0 {
		return subs, errs
	}
	return subs, nil
}
