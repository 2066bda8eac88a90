package filesystem

import (
	"context"

	"github.com/wippyai/limes-faas/wasi/preview2"
)

// PreopenEntry describes one host directory exposed to the guest, at
// GuestPath, with the directory/file permissions spec §3's WASI
// configuration names (ReadOnly covers both: wasi:filesystem has no
// separate directory-vs-file write bit once resolved through a
// descriptor).
type PreopenEntry = preview2.Preopen

type PreopensHost struct {
	resources *preview2.ResourceTable
	entries   []PreopenEntry
}

// NewPreopensHost creates a preopens host from a host-path -> guest-path
// map, each mounted read-write. Kept for callers that don't need
// per-entry permissions.
func NewPreopensHost(resources *preview2.ResourceTable, preopens map[string]string) *PreopensHost {
	entries := make([]PreopenEntry, 0, len(preopens))
	for hostPath, guestPath := range preopens {
		entries = append(entries, PreopenEntry{HostPath: hostPath, GuestPath: guestPath})
	}
	return NewPreopensHostWithEntries(resources, entries)
}

// NewPreopensHostWithEntries creates a preopens host with explicit
// per-directory read-only permissions (spec §3, §4.4 step 3).
func NewPreopensHostWithEntries(resources *preview2.ResourceTable, entries []PreopenEntry) *PreopensHost {
	return &PreopensHost{resources: resources, entries: entries}
}

func (h *PreopensHost) Namespace() string {
	return "wasi:filesystem/preopens@0.2.3"
}

func (h *PreopensHost) GetDirectories(_ context.Context) [][2]interface{} {
	result := make([][2]interface{}, 0, len(h.entries))

	for _, e := range h.entries {
		desc := preview2.NewDescriptorResource(e.HostPath, true, e.ReadOnly)
		handle := h.resources.Add(desc)
		result = append(result, [2]interface{}{handle, e.GuestPath})
	}

	return result
}
