package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	datamanager "github.com/skecskes/data-manager"
	"github.com/skecskes/data-manager/manager"
)

// writeJSON is the one response helper every debug handler uses, mirroring
// the convention of returning a bare JSON body with no envelope.
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"message": message})
}

// debugRouter builds the read-only local status surface: GET /chunks lists
// every Ready chunk id, GET /chunks/find resolves a point lookup, and
// GET /stats reports catalogue and executor counters. It is a thin view
// over m — the RPC layer a real worker exposes this data through is out of
// scope here.
func debugRouter(m *manager.Manager) *httprouter.Router {
	r := httprouter.New()
	r.GET("/chunks", handleListChunks(m))
	r.GET("/chunks/find", handleFindChunk(m))
	r.GET("/stats", handleStats(m))
	return r
}

func handleListChunks(m *manager.Manager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		ids := m.ListChunks()
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = id.String()
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"chunks": out})
	}
}

func handleFindChunk(m *manager.Manager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		q := r.URL.Query()
		datasetID, err := datamanager.ParseDatasetId(q.Get("dataset"))
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid or missing dataset")
			return
		}
		block, err := strconv.ParseUint(q.Get("block"), 10, 64)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid or missing block")
			return
		}
		ref, ok := m.FindChunk(datasetID, block)
		if !ok {
			writeAPIError(w, http.StatusNotFound, "no ready chunk covers that block")
			return
		}
		defer ref.Release()
		writeJSON(w, http.StatusOK, map[string]string{
			"chunk_id": ref.ID().String(),
			"path":     ref.Path(),
		})
	}
}

func handleStats(m *manager.Manager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		catStats, execStats := m.Stats()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"catalogue": catStats,
			"executor":  execStats,
		})
	}
}
