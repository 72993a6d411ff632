package httpadapter

import (
	"encoding/json"
	"net/http"

	"github.com/emad-noorizadeh/eval-rag/internal/config"
)

func (rt *Router) getChatConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.cfg.Chat())
}

// updateChatConfig applies a partial update over the current snapshot;
// invalid combinations are rejected atomically.
func (rt *Router) updateChatConfig(w http.ResponseWriter, r *http.Request) {
	current := rt.cfg.Chat()
	raw, err := json.Marshal(current)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	var merged config.ChatConfig
	if err := json.Unmarshal(raw, &merged); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := json.NewDecoder(r.Body).Decode(&merged); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	if err := rt.cfg.Update(merged); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	rt.log.Info("chat_config_updated",
		"retrieval_method", merged.RetrievalMethod,
		"routing_strategy", merged.RoutingStrategy,
		"similarity_threshold", merged.SimilarityThreshold,
		"reclarify_threshold", merged.ReclarifyThreshold,
	)
	writeJSON(w, http.StatusOK, rt.cfg.Chat())
}
