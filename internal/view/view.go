// Package view computes what the console shows a given user: tab visibility
// by role, the default tab, and the explainability image gallery.
package view

import "github.com/ahnjh51-tft/deepguard-v1/internal/models"

// Tab identifiers.
const (
	TabDetection = "detection"
	TabHistory   = "history"
)

// Tab is one console tab and the roles allowed to see it.
type Tab struct {
	ID           string        `json:"id"`
	Label        string        `json:"label"`
	AllowedRoles []models.Role `json:"-"`
}

// The fixed tab registry. Detection is open to every role; history is
// restricted to admins.
var tabs = []Tab{
	{ID: TabDetection, Label: "Detection", AllowedRoles: []models.Role{models.RoleAdmin, models.RoleUser}},
	{ID: TabHistory, Label: "History", AllowedRoles: []models.Role{models.RoleAdmin}},
}

// Tabs returns the full tab registry.
func Tabs() []Tab {
	out := make([]Tab, len(tabs))
	copy(out, tabs)
	return out
}

// VisibleTabs returns the tabs the role may see, in registry order.
func VisibleTabs(role models.Role) []Tab {
	var visible []Tab
	for _, tab := range tabs {
		for _, allowed := range tab.AllowedRoles {
			if allowed == role {
				visible = append(visible, tab)
				break
			}
		}
	}
	return visible
}

// CanSee reports whether the role may see the given tab.
func CanSee(role models.Role, tabID string) bool {
	for _, tab := range VisibleTabs(role) {
		if tab.ID == tabID {
			return true
		}
	}
	return false
}

// DefaultTab returns the first visible tab for the role, falling back to the
// detection tab when nothing is visible.
func DefaultTab(role models.Role) string {
	visible := VisibleTabs(role)
	if len(visible) == 0 {
		return TabDetection
	}
	return visible[0].ID
}

// GalleryImage is one explainability image with its fixed caption.
type GalleryImage struct {
	Caption string `json:"caption"`
	Src     string `json:"src"`
}

// Gallery returns the non-empty explainability images of a result, each under
// its fixed caption, in presentation order.
func Gallery(result models.DetectionResult) []GalleryImage {
	var gallery []GalleryImage
	if result.OriginalWithBoxes != "" {
		gallery = append(gallery, GalleryImage{Caption: "Original with detected regions", Src: result.OriginalWithBoxes})
	}
	if result.ElaHeatmap != "" {
		gallery = append(gallery, GalleryImage{Caption: "ELA heatmap", Src: result.ElaHeatmap})
	}
	if result.ElaWithBoxes != "" {
		gallery = append(gallery, GalleryImage{Caption: "ELA with detected regions", Src: result.ElaWithBoxes})
	}
	return gallery
}
