// Package gallery lists and prunes captured screenshots on disk. The tree is
// <root>/<domain>/<device>/<file>, as written by the capture engine.
package gallery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound reports a missing screenshot.
	ErrNotFound = errors.New("screenshot not found")
	// ErrInvalidPath rejects paths outside the gallery or to non-images.
	ErrInvalidPath = errors.New("invalid screenshot path")
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true}

// Query filters Search. Zero values match everything. From and To are
// inclusive bounds on the file modification time.
type Query struct {
	From   time.Time
	To     time.Time
	Domain string
	Device string
}

// Screenshot is one image in the gallery. Path is slash-separated and
// relative to the root.
type Screenshot struct {
	Path     string    `json:"path"`
	Domain   string    `json:"domain"`
	Device   string    `json:"device"`
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Search returns matching screenshots, newest first. A missing root yields
// an empty result.
func Search(root string, q Query) ([]Screenshot, error) {
	var out []Screenshot
	err := walk(root, func(s Screenshot) {
		if q.matches(s) {
			out = append(out, s)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Modified.Equal(out[j].Modified) {
			return out[i].Path < out[j].Path
		}
		return out[i].Modified.After(out[j].Modified)
	})
	if out == nil {
		out = []Screenshot{}
	}
	return out, nil
}

// Index groups every screenshot by domain folder. File names are relative to
// the domain folder, for example "desktop/main_page_desktop.png".
func Index(root string) (map[string][]string, error) {
	out := make(map[string][]string)
	err := walk(root, func(s Screenshot) {
		out[s.Domain] = append(out[s.Domain], path.Join(s.Device, s.Name))
	})
	if err != nil {
		return nil, err
	}
	for _, files := range out {
		sort.Strings(files)
	}
	return out, nil
}

// Delete removes the screenshot at rel.
func Delete(root, rel string) error {
	full, err := resolve(root, rel)
	if err != nil {
		return err
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	if err != nil {
		return fmt.Errorf("stat screenshot: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInvalidPath, rel)
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("delete screenshot: %w", err)
	}
	return nil
}

// resolve maps rel to a file path under root, rejecting escapes.
func resolve(root, rel string) (string, error) {
	clean := path.Clean("/" + strings.TrimSpace(rel))[1:]
	if clean == "" || clean != strings.Trim(filepath.ToSlash(rel), "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	if !imageExts[strings.ToLower(path.Ext(clean))] {
		return "", fmt.Errorf("%w: %q is not an image", ErrInvalidPath, rel)
	}
	return filepath.Join(root, filepath.FromSlash(clean)), nil
}

func (q Query) matches(s Screenshot) bool {
	if !q.From.IsZero() && s.Modified.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && s.Modified.After(q.To) {
		return false
	}
	if q.Domain != "" && !strings.Contains(strings.ToLower(s.Domain), strings.ToLower(q.Domain)) {
		return false
	}
	if q.Device != "" && s.Device != q.Device {
		return false
	}
	return true
}

// walk visits every image exactly two directories below root.
func walk(root string, visit func(Screenshot)) error {
	domains, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read gallery root: %w", err)
	}
	for _, domain := range domains {
		if !domain.IsDir() {
			continue
		}
		devices, err := os.ReadDir(filepath.Join(root, domain.Name()))
		if err != nil {
			return fmt.Errorf("read domain %s: %w", domain.Name(), err)
		}
		for _, device := range devices {
			if !device.IsDir() {
				continue
			}
			files, err := os.ReadDir(filepath.Join(root, domain.Name(), device.Name()))
			if err != nil {
				return fmt.Errorf("read device %s/%s: %w", domain.Name(), device.Name(), err)
			}
			for _, f := range files {
				if f.IsDir() || !imageExts[strings.ToLower(filepath.Ext(f.Name()))] {
					continue
				}
				info, err := f.Info()
				if err != nil {
					continue
				}
				visit(Screenshot{
					Path:     path.Join(domain.Name(), device.Name(), f.Name()),
					Domain:   domain.Name(),
					Device:   device.Name(),
					Name:     f.Name(),
					Size:     info.Size(),
					Modified: info.ModTime().UTC(),
				})
			}
		}
	}
	return nil
}
