package store

import "strings"

// Names derives every partition name from one version string, so install-time
// seeding and activate-time cleanup can never disagree about the current set.
type Names struct {
	Version string
}

func (n Names) Static() string         { return "static@" + n.Version }
func (n Names) Dynamic() string        { return "dynamic@" + n.Version }
func (n Names) ToolData() string       { return "tool-data@" + n.Version }
func (n Names) OfflineQueue() string   { return "offline-queue@" + n.Version }
func (n Names) Preferences() string    { return "preferences@" + n.Version }
func (n Names) Notifications() string  { return "notifications@" + n.Version }
func (n Names) BackgroundSync() string { return "background-sync@" + n.Version }

func (n Names) All() []string {
	return []string{
		n.Static(),
		n.Dynamic(),
		n.ToolData(),
		n.OfflineQueue(),
		n.Preferences(),
		n.Notifications(),
		n.BackgroundSync(),
	}
}

func (n Names) Current(name string) bool {
	for _, current := range n.All() {
		if name == current {
			return true
		}
	}
	return false
}

// PartitionPurpose splits a partition name back into its purpose half.
// Unversioned names report an empty version.
func PartitionPurpose(name string) (purpose, version string) {
	idx := strings.LastIndex(name, "@")
	if idx < 0 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}
