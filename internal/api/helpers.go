package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/mailfolders/internal/auth"
	"github.com/vdavid/mailfolders/internal/db"
	"github.com/vdavid/mailfolders/internal/foldercache"
)

// GetUserFromContext resolves the authenticated identity to a DB user and writes the
// appropriate HTTP error when that fails. Returns (userID, contextID, true) on success.
func GetUserFromContext(ctx context.Context, w http.ResponseWriter, pool *pgxpool.Pool) (string, int, bool) {
	id, ok := auth.GetIdentityFromContext(ctx)
	if !ok {
		logrus.Debug("API: No identity in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", 0, false
	}

	userID, err := db.GetOrCreateUser(ctx, pool, id.ContextID, id.Email)
	if err != nil {
		logrus.WithError(err).Error("API: Failed to get/create user")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return "", 0, false
	}

	return userID, id.ContextID, true
}

// GetAccountKey resolves the user and the ?account= query parameter (default 0, the primary
// account) into the folder cache key.
func GetAccountKey(r *http.Request, w http.ResponseWriter, pool *pgxpool.Pool) (foldercache.AccountKey, bool) {
	accountID := 0
	if raw := r.URL.Query().Get("account"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "account must be a non-negative number", http.StatusBadRequest)
			return foldercache.AccountKey{}, false
		}
		accountID = parsed
	}

	userID, contextID, ok := GetUserFromContext(r.Context(), w, pool)
	if !ok {
		return foldercache.AccountKey{}, false
	}

	return foldercache.AccountKey{UserID: userID, ContextID: contextID, AccountID: accountID}, true
}

// ParseBoolParam parses an optional boolean query parameter.
func ParseBoolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

// WriteJSONResponse encodes v into a buffer first so a failing encode never leaves a partial
// body behind. Returns false if nothing useful was written.
func WriteJSONResponse(w http.ResponseWriter, v any) bool {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		logrus.WithError(err).Error("API: Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return false
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(buf.Bytes()); err != nil {
		logrus.WithError(err).Warn("API: Failed to write JSON response")
		return false
	}
	return true
}

// writeCacheError maps folder cache and account errors to HTTP responses.
func writeCacheError(w http.ResponseWriter, err error) {
	var remote *foldercache.RemoteListingError
	switch {
	case errors.Is(err, db.ErrAccountNotFound):
		http.Error(w, "Account not found", http.StatusNotFound)
	case errors.Is(err, foldercache.ErrFolderNotFound):
		http.Error(w, "Folder not found", http.StatusNotFound)
	case errors.Is(err, foldercache.ErrRegistryClosed):
		http.Error(w, "Service is shutting down", http.StatusServiceUnavailable)
	case errors.As(err, &remote):
		logrus.WithError(err).Warn("API: Mail server request failed")
		http.Error(w, "Mail server request failed", http.StatusBadGateway)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "Request canceled", http.StatusServiceUnavailable)
	default:
		logrus.WithError(err).Error("API: Folder cache request failed")
		http.Error(w, "Failed to load folders", http.StatusBadGateway)
	}
}
