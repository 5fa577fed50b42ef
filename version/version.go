// Package version exposes the build metadata embedded in the replication
// service binary: its own module version and the dependency set it was
// built against. The version subcommand prints this for support requests,
// since replication behavior depends on the exact search and AWS SDK
// dependency versions in use.
package version

import (
	"runtime/debug"
	"sort"
)

// Dependency is one module requirement of the binary.
type Dependency struct {
	Path    string `json:"path"`
	Version string `json:"version"`
	Replace string `json:"replace,omitempty"`
}

// BuildInfo is the embedded build metadata of the binary.
type BuildInfo struct {
	GoVersion    string       `json:"goVersion"`
	MainModule   string       `json:"mainModule"`
	MainVersion  string       `json:"mainVersion"`
	Dependencies []Dependency `json:"dependencies"`
}

// GetBuildInfo reads the module information embedded at build time. When
// the binary carries no build info (e.g. built from a file list), every
// string field reports "unknown" and the dependency list is empty.
func GetBuildInfo() *BuildInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return &BuildInfo{
			GoVersion:    "unknown",
			MainModule:   "unknown",
			MainVersion:  "unknown",
			Dependencies: []Dependency{},
		}
	}

	deps := make([]Dependency, 0, len(info.Deps))
	for _, dep := range info.Deps {
		deps = append(deps, toDependency(dep))
	}
	// Sorted by path for stable output
	sort.Slice(deps, func(i, j int) bool { return deps[i].Path < deps[j].Path })

	return &BuildInfo{
		GoVersion:    info.GoVersion,
		MainModule:   info.Path,
		MainVersion:  info.Main.Version,
		Dependencies: deps,
	}
}

// GetVersion returns the version of the running binary.
// Returns "dev" when built outside a released module version.
func GetVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

func toDependency(dep *debug.Module) Dependency {
	out := Dependency{
		Path:    dep.Path,
		Version: dep.Version,
	}
	if dep.Replace != nil {
		out.Replace = dep.Replace.Path + "@" + dep.Replace.Version
	}
	return out
}
