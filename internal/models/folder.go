package models

// Folder is one cached folder as returned by the API.
type Folder struct {
	Path            string        `json:"path"`
	Name            string        `json:"name"`
	Parent          *string       `json:"parent,omitempty"`
	Separator       string        `json:"separator,omitempty"`
	Attributes      []string      `json:"attributes"`
	CanOpen         bool          `json:"can_open"`
	CanHaveChildren bool          `json:"can_have_children"`
	HasChildren     *bool         `json:"has_children,omitempty"`
	Subscribed      bool          `json:"subscribed"`
	Namespace       bool          `json:"namespace,omitempty"`
	Placeholder     bool          `json:"placeholder,omitempty"`
	Children        []string      `json:"children,omitempty"`
	Counts          *FolderCounts `json:"counts,omitempty"`
	// Stale is set when the folder comes from the last known listing after a failed refresh.
	Stale bool `json:"stale,omitempty"`
}

// FolderCounts are the STATUS message counts of a folder.
type FolderCounts struct {
	Total  uint32 `json:"total"`
	Recent uint32 `json:"recent"`
	Unseen uint32 `json:"unseen"`
}

// FolderListResponse is the payload of the folder list endpoints.
// Stale is set when the folders could not be refreshed and the last known listing is served.
type FolderListResponse struct {
	Folders []Folder `json:"folders"`
	Stale   bool     `json:"stale"`
	// Mbox reports the server layout guess: "yes", "no" or "unknown".
	Mbox string `json:"mbox,omitempty"`
}

// SpecialUseResponse maps each special-use role to the paths carrying it.
type SpecialUseResponse struct {
	Folders map[string][]string `json:"folders"`
	Stale   bool                `json:"stale"`
}
