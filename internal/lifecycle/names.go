package lifecycle

import "strings"

// Namespace prefixes every partition this application owns.
const Namespace = "makeriess"

// Names are the three partition names of one cache version.
type Names struct {
	Tag     string `json:"tag"`
	Static  string `json:"static"`
	Dynamic string `json:"dynamic"`
	Offline string `json:"offline"`
}

// NamesFor returns the partition names for version tag.
func NamesFor(tag string) Names {
	return Names{
		Tag:     tag,
		Static:  Namespace + "-" + tag,
		Dynamic: Namespace + "-dynamic-" + tag,
		Offline: Namespace + "-offline-" + tag,
	}
}

func (n Names) All() []string {
	return []string{n.Static, n.Dynamic, n.Offline}
}

// Contains reports whether name is one of n's partitions.
func (n Names) Contains(name string) bool {
	return name == n.Static || name == n.Dynamic || name == n.Offline
}

// IsOwned reports whether a partition name belongs to this application's
// namespace. Partitions of other applications are never touched.
func IsOwned(name string) bool {
	return strings.HasPrefix(name, Namespace+"-")
}
