package service

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Cavedragon13/ai-image-organizer/internal/domain"
)

var ErrPermissionDenied = errors.New("permission denied")

type FolderItem struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
}

type FolderListing struct {
	CurrentPath string       `json:"current_path"`
	ParentPath  *string      `json:"parent_path"`
	Items       []FolderItem `json:"items"`
}

// BrowseFolder lists the sub-folders of path, defaulting to the user's home.
func BrowseFolder(path string) (FolderListing, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return FolderListing{}, fmt.Errorf("resolve home folder: %w", err)
		}
		path = home
	}
	path = filepath.Clean(path)

	entries, err := os.ReadDir(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			return FolderListing{}, ErrPermissionDenied
		case errors.Is(err, fs.ErrNotExist):
			return FolderListing{}, domain.ErrNotFound
		default:
			return FolderListing{}, fmt.Errorf("read folder: %w", err)
		}
	}

	items := make([]FolderItem, 0, len(entries))
	for _, entry := range entries {
		entryPath := filepath.Join(path, entry.Name())
		isDir := entry.IsDir()
		if entry.Type()&fs.ModeSymlink != 0 {
			if info, statErr := os.Stat(entryPath); statErr == nil {
				isDir = info.IsDir()
			}
		}
		if !isDir {
			continue
		}
		items = append(items, FolderItem{Name: entry.Name(), Path: entryPath, Type: "folder"})
	}
	sort.Slice(items, func(i, j int) bool {
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})

	listing := FolderListing{CurrentPath: path, Items: items}
	if parent := filepath.Dir(path); parent != path {
		listing.ParentPath = &parent
	}
	return listing, nil
}
