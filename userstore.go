package go_relay_i_guess

import (
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"

    "gopkg.in/yaml.v3"
)

// UserStore loads the configuration of restricted sessions and persists
// updates to it.
type UserStore interface {
    // Load retrieve every configured user, in a stable order.
    Load() ([]UserConfig, error)

    // Save persist the configuration of a single user.
    Save(conf UserConfig) error
}

// ErrInvalidUsername is returned for usernames that can't name a file.
var ErrInvalidUsername = errors.New("invalid username")

// FileUserStore keeps one YAML file per user in a directory.
type FileUserStore struct {
    Dir string
}

// NewFileUserStore create a store over the directory `dir`.
func NewFileUserStore(dir string) *FileUserStore {
    return &FileUserStore {
        Dir: dir,
    }
}

// Load read every user file in the store's directory, sorted by filename.
func (f *FileUserStore) Load() ([]UserConfig, error) {
    entries, err := os.ReadDir(f.Dir)
    if err != nil {
        return nil, fmt.Errorf("failed to list users in %q: %w", f.Dir, err)
    }

    var users []UserConfig
    for _, entry := range entries {
        if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
            continue
        }

        path := filepath.Join(f.Dir, entry.Name())
        data, err := os.ReadFile(path)
        if err != nil {
            return nil, fmt.Errorf("failed to read user file %q: %w", path, err)
        }

        var conf UserConfig
        if err := yaml.Unmarshal(data, &conf); err != nil {
            return nil, fmt.Errorf("failed to parse user file %q: %w", path, err)
        }
        if len(conf.User) == 0 {
            conf.User = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
        }

        users = append(users, conf)
    }

    return users, nil
}

// Save write `conf` to `<dir>/<user>.yaml`, readable only by its owner.
//
// The file is replaced atomically, so a failed write leaves the previous
// configuration in place.
func (f *FileUserStore) Save(conf UserConfig) error {
    path, err := f.path(conf.User)
    if err != nil {
        return err
    }

    data, err := yaml.Marshal(&conf)
    if err != nil {
        return fmt.Errorf("failed to marshal user %q: %w", conf.User, err)
    }

    tmp, err := os.CreateTemp(f.Dir, "." + conf.User + "-*.tmp")
    if err != nil {
        return fmt.Errorf("failed to create user file: %w", err)
    }
    defer os.Remove(tmp.Name())

    if _, err := tmp.Write(data); err != nil {
        tmp.Close()
        return fmt.Errorf("failed to write user file: %w", err)
    }
    if err := tmp.Chmod(0600); err != nil {
        tmp.Close()
        return fmt.Errorf("failed to restrict user file: %w", err)
    }
    if err := tmp.Close(); err != nil {
        return fmt.Errorf("failed to write user file: %w", err)
    }

    if err := os.Rename(tmp.Name(), path); err != nil {
        return fmt.Errorf("failed to replace user file %q: %w", path, err)
    }

    return nil
}

// path of the file storing `user`.
func (f *FileUserStore) path(user string) (string, error) {
    if len(user) == 0 || user == "." || user == ".." ||
            strings.ContainsAny(user, `/\`) {
        return "", ErrInvalidUsername
    }
    return filepath.Join(f.Dir, user + ".yaml"), nil
}
