package container

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DataDir is where the service keeps its config and database inside the
// container.
const DataDir = "/home/user/.llmdeploy"

// DataBind validates hostDir against allowedRoots and returns a bind
// mounting it at DataDir. Relative paths, traversal and directories outside
// every allowed root are rejected.
func DataBind(hostDir string, allowedRoots []string) (string, error) {
	if hostDir == "" {
		return "", fmt.Errorf("data directory cannot be empty")
	}
	if strings.Contains(hostDir, "..") {
		return "", fmt.Errorf("data directory contains path traversal: %s", hostDir)
	}
	if strings.Contains(hostDir, ":") {
		return "", fmt.Errorf("data directory must not contain ':': %s", hostDir)
	}

	cleaned := filepath.Clean(hostDir)
	if !filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("data directory must be absolute: %s", hostDir)
	}

	for _, root := range allowedRoots {
		root = filepath.Clean(root)
		if cleaned == root || strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
			return cleaned + ":" + DataDir, nil
		}
	}
	return "", fmt.Errorf("data directory %s is not within %s", hostDir, strings.Join(allowedRoots, ", "))
}
