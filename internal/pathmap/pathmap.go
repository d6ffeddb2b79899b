// Package pathmap maps host filesystem paths to their container-side
// equivalents and back, rooted at a configured mount pair. Both directions
// are pure and total: inputs that would escape the mount are clamped to the
// root rather than producing a path outside it.
package pathmap

import (
	"path/filepath"
	"strings"
)

// HostToContainer maps a host path to its container-side equivalent.
//
// If input is relative, it is resolved against hostRoot first. Absolute
// inputs are normalized as-is. A path that is not hostRoot itself, nor
// strictly inside it, clamps to containerRoot — it never leaks a path the
// container mount cannot reach.
func HostToContainer(input, hostRoot, containerRoot string) string {
	if containerRoot == "" {
		containerRoot = "/"
	}
	if hostRoot == "" || input == "" {
		return containerRoot
	}

	resolved := input
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(hostRoot, resolved)
	} else {
		resolved = filepath.Clean(resolved)
	}
	hostRoot = filepath.Clean(hostRoot)

	rel, ok := relativeWithin(resolved, hostRoot)
	if !ok {
		return containerRoot
	}
	if rel == "." {
		return containerRoot
	}
	return filepath.Join(containerRoot, rel)
}

// ContainerToHost is the symmetric inverse of HostToContainer: paths outside
// containerRoot clamp to hostRoot, otherwise the relative remainder under
// containerRoot is preserved byte-for-byte under hostRoot.
func ContainerToHost(input, hostRoot, containerRoot string) string {
	if hostRoot == "" {
		hostRoot = "/"
	}
	if containerRoot == "" || input == "" {
		return hostRoot
	}

	resolved := input
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(containerRoot, resolved)
	} else {
		resolved = filepath.Clean(resolved)
	}
	containerRoot = filepath.Clean(containerRoot)

	rel, ok := relativeWithin(resolved, containerRoot)
	if !ok {
		return hostRoot
	}
	if rel == "." {
		return hostRoot
	}
	return filepath.Join(hostRoot, rel)
}

// IsWithin reports whether input resolves to root itself or a path nested
// inside it. Relative input is resolved against root first.
func IsWithin(input, root string) bool {
	if root == "" || input == "" {
		return false
	}
	resolved := input
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(root, resolved)
	} else {
		resolved = filepath.Clean(resolved)
	}
	_, ok := relativeWithin(resolved, filepath.Clean(root))
	return ok
}

// relativeWithin returns the path of child relative to root, and whether
// child is root itself or strictly inside it.
func relativeWithin(child, root string) (string, bool) {
	rel, err := filepath.Rel(root, child)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
