// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"
)

// PagesHandler serves each mind's static `home/pages` tree at
// `/pages/:name/*`, e.g. a dashboard a mind renders for itself.
type PagesHandler struct {
	home string
}

// NewPagesHandler creates a PagesHandler rooted at the daemon's home
// directory (each mind's pages tree lives at `<home>/minds/<name>/pages`).
func NewPagesHandler(home string) *PagesHandler {
	return &PagesHandler{home: home}
}

// Serve handles GET /pages/{name}/{rest:.*}, rejecting any request
// whose resolved path would escape the mind's pages directory.
func (h *PagesHandler) Serve(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]
	rest := vars["rest"]
	if rest == "" {
		rest = "index.html"
	}

	root := filepath.Join(h.home, "minds", name, "pages")
	target := filepath.Join(root, filepath.Clean("/"+rest))
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		WriteError(w, http.StatusBadRequest, ErrValidation, "invalid page path")
		return
	}
	http.ServeFile(w, r, target)
}
