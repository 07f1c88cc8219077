package codeindex

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
)

// FileState is the (mtime, hash) pair that is compared between scans.
type FileState struct {
	ModTime int64
	Hash    string
}

// DiffKind classifies how a discovered file relates to the stored catalog
// (spec §4.6's incremental diff rules).
type DiffKind string

const (
	DiffNew     DiffKind = "new"
	DiffTouched DiffKind = "touched" // mtime differs, hash unchanged
	DiffChanged DiffKind = "changed" // mtime and hash differ
	DiffSkip    DiffKind = "skip"    // mtime unchanged
	DiffDeleted DiffKind = "deleted" // present in store, absent on disk
)

// FileDiff pairs a discovered (or deleted) file with its diff classification.
type FileDiff struct {
	Path       string
	Kind       DiffKind
	Discovered *DiscoveredFile // nil for DiffDeleted
	Hash       string          // computed hash for New/Changed, empty otherwise
}

// hashFile computes the sha256 hash of a file's contents.
func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Diff compares freshly discovered files against the previously stored file
// states and classifies each one, plus any stored paths no longer present
// on disk (spec §4.6).
func Diff(discovered []DiscoveredFile, stored map[string]FileState) ([]FileDiff, error) {
	seen := make(map[string]struct{}, len(discovered))
	var diffs []FileDiff

	for _, df := range discovered {
		seen[df.Path] = struct{}{}
		prev, existed := stored[df.Path]

		if !existed {
			hash, err := hashFile(df.AbsPath)
			if err != nil {
				continue
			}
			d := df
			diffs = append(diffs, FileDiff{Path: df.Path, Kind: DiffNew, Discovered: &d, Hash: hash})
			continue
		}

		if prev.ModTime == df.ModTime {
			diffs = append(diffs, FileDiff{Path: df.Path, Kind: DiffSkip})
			continue
		}

		hash, err := hashFile(df.AbsPath)
		if err != nil {
			continue
		}
		d := df
		if hash == prev.Hash {
			diffs = append(diffs, FileDiff{Path: df.Path, Kind: DiffTouched, Discovered: &d, Hash: hash})
		} else {
			diffs = append(diffs, FileDiff{Path: df.Path, Kind: DiffChanged, Discovered: &d, Hash: hash})
		}
	}

	for path := range stored {
		if _, ok := seen[path]; !ok {
			diffs = append(diffs, FileDiff{Path: path, Kind: DiffDeleted})
		}
	}

	return diffs, nil
}
