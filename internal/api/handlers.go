package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"signupguard/internal/blocklist"
	"signupguard/internal/classifier"
)

type classifyRequest struct {
	Email string `json:"email"`
	IP    string `json:"ip"`
}

type classifyResponse struct {
	RiskLevel string   `json:"risk_level"`
	Reasons   []string `json:"reasons"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
			return
		}
	} else {
		req.Email = r.URL.Query().Get("email")
		req.IP = r.URL.Query().Get("ip")
	}

	req.Email = strings.TrimSpace(req.Email)
	req.IP = strings.TrimSpace(req.IP)

	if req.Email == "" && req.IP == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "provide email and/or ip")
		return
	}
	if req.IP != "" && !blocklist.ValidIPv4(req.IP) {
		writeError(w, http.StatusBadRequest, "invalid_request", "ip must be a dotted-quad IPv4 address")
		return
	}
	if req.Email != "" && !validEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "invalid_request", "email must contain a domain part")
		return
	}

	verdict := s.classifier.Classify(r.Context(), classifier.Input{
		Email: req.Email,
		IP:    req.IP,
	})

	reasons := verdict.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	json.NewEncoder(w).Encode(classifyResponse{
		RiskLevel: verdict.Level.String(),
		Reasons:   reasons,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(s.loader.Status())
}

func (s *Server) handleAdminUpdate(w http.ResponseWriter, r *http.Request) {
	s.loader.UpdateNow()
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"triggered": true,
		"status":    s.loader.Status(),
	})
}

func writeError(w http.ResponseWriter, code int, kind, msg string) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{Error: kind, Message: msg})
}

// validEmail is the API-boundary sanity check: a non-empty local part and a
// non-empty domain. Deliverability is the classifier's concern.
func validEmail(s string) bool {
	at := strings.LastIndexByte(s, '@')
	return at > 0 && at < len(s)-1
}
