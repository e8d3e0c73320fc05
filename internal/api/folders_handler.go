package api

import (
	"net/http"

	"github.com/bradenaw/juniper/xslices"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/mailfolders/internal/foldercache"
	"github.com/vdavid/mailfolders/internal/models"
)

// FoldersHandler serves the cached folder tree of the current user's accounts.
type FoldersHandler struct {
	pool     *pgxpool.Pool
	registry *foldercache.Registry
}

// NewFoldersHandler creates a new FoldersHandler instance.
func NewFoldersHandler(pool *pgxpool.Pool, registry *foldercache.Registry) *FoldersHandler {
	return &FoldersHandler{
		pool:     pool,
		registry: registry,
	}
}

// collection returns the account's Collection. A failed rebuild still yields the last known
// Collection, flagged as stale.
func (h *FoldersHandler) collection(w http.ResponseWriter, r *http.Request) (*foldercache.Collection, bool, bool) {
	key, ok := GetAccountKey(r, w, h.pool)
	if !ok {
		return nil, false, false
	}

	c, err := h.registry.Get(r.Context(), key)
	if c == nil {
		writeCacheError(w, err)
		return nil, false, false
	}
	if err != nil {
		logrus.WithError(err).WithField("account", key.String()).Warn("FoldersHandler: Serving stale folders")
		return c, true, true
	}
	return c, false, true
}

// GetFolders returns every folder of an account (LIST view), sorted by path.
func (h *FoldersHandler) GetFolders(w http.ResponseWriter, r *http.Request) {
	c, stale, ok := h.collection(w, r)
	if !ok {
		return
	}
	h.writeFolders(w, c, c.ListEntries(), stale)
}

// GetSubscribed returns the subscribed folders of an account (LSUB view).
func (h *FoldersHandler) GetSubscribed(w http.ResponseWriter, r *http.Request) {
	c, stale, ok := h.collection(w, r)
	if !ok {
		return
	}
	h.writeFolders(w, c, c.LsubEntries(), stale)
}

func (h *FoldersHandler) writeFolders(w http.ResponseWriter, c *foldercache.Collection, entries []*foldercache.Entry, stale bool) {
	entries = xslices.Filter(entries, func(e *foldercache.Entry) bool { return !e.IsRoot() })
	WriteJSONResponse(w, models.FolderListResponse{
		Folders: xslices.Map(entries, toFolder),
		Stale:   stale,
		Mbox:    c.ConsideredMbox().String(),
	})
}

// GetEntry returns one folder. With ?counts=true the message counts are fetched as well.
// When the folders cannot be refreshed, the last known entry is served and flagged as stale.
func (h *FoldersHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}
	withCounts, err := ParseBoolParam(r, "counts")
	if err != nil {
		http.Error(w, "counts must be a boolean", http.StatusBadRequest)
		return
	}

	c, stale, ok := h.collection(w, r)
	if !ok {
		return
	}

	var entry *foldercache.Entry
	if stale {
		entry = c.ListIgnoreDeprecated(path)
	} else if entry, err = h.registry.GetEntry(r.Context(), c.Key(), path); err != nil {
		writeCacheError(w, err)
		return
	}
	if entry == nil {
		http.Error(w, "Folder not found", http.StatusNotFound)
		return
	}

	// Counts need the server; a stale entry only carries the ones remembered earlier.
	if withCounts && !stale && entry.CanOpen() {
		if _, err := h.registry.StatusOf(r.Context(), c.Key(), path); err != nil {
			writeCacheError(w, err)
			return
		}
	}

	folder := toFolder(entry)
	folder.Stale = stale
	WriteJSONResponse(w, folder)
}

// GetSpecialUse returns the folders tagged with each special-use role.
func (h *FoldersHandler) GetSpecialUse(w http.ResponseWriter, r *http.Request) {
	c, stale, ok := h.collection(w, r)
	if !ok {
		return
	}

	resp := models.SpecialUseResponse{Folders: make(map[string][]string, len(foldercache.SpecialUses)), Stale: stale}
	for _, use := range foldercache.SpecialUses {
		resp.Folders[string(use)] = xslices.Map(c.SpecialUse(use), (*foldercache.Entry).FullPath)
	}
	WriteJSONResponse(w, resp)
}

// PostRefresh drops the account's cached folders, tells the other nodes, and returns the
// freshly listed tree.
func (h *FoldersHandler) PostRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key, ok := GetAccountKey(r, w, h.pool)
	if !ok {
		return
	}

	h.registry.ClearCache(key)
	c, err := h.registry.Get(r.Context(), key)
	if err != nil {
		writeCacheError(w, err)
		return
	}
	h.writeFolders(w, c, c.ListEntries(), false)
}

// PostDrop drops the cached folders of every account of the current user.
// With ?force_new_connection=true the next listing also uses fresh IMAP connections.
func (h *FoldersHandler) PostDrop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	force, err := ParseBoolParam(r, "force_new_connection")
	if err != nil {
		http.Error(w, "force_new_connection must be a boolean", http.StatusBadRequest)
		return
	}

	userID, contextID, ok := GetUserFromContext(r.Context(), w, h.pool)
	if !ok {
		return
	}

	h.registry.DropFor(userID, contextID, true, force)
	w.WriteHeader(http.StatusNoContent)
}

func toFolder(e *foldercache.Entry) models.Folder {
	f := models.Folder{
		Path:            e.FullPath(),
		Name:            e.Name(),
		Attributes:      e.Attributes(),
		CanOpen:         e.CanOpen(),
		CanHaveChildren: e.HasInferiors(),
		Subscribed:      e.IsSubscribed(),
		Namespace:       e.IsNamespace(),
		Placeholder:     e.IsDummy(),
		Children:        e.ChildPaths(),
	}
	if sep := e.Separator(); sep != 0 {
		f.Separator = string(sep)
	}
	if parent, ok := e.ParentPath(); ok {
		f.Parent = &parent
	}
	switch e.HasChildren() {
	case foldercache.Yes:
		hasChildren := true
		f.HasChildren = &hasChildren
	case foldercache.No:
		hasChildren := false
		f.HasChildren = &hasChildren
	}
	if counts, ok := e.MessageCounts(); ok {
		f.Counts = &models.FolderCounts{Total: counts.Total, Recent: counts.Recent, Unseen: counts.Unseen}
	}
	if len(f.Children) == 0 {
		f.Children = nil
	}
	f.Attributes = xslices.Map(f.Attributes, func(a string) string { return `\` + a })
	return f
}
