package bot

import (
	"encoding/json"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// HTTPServer serves health checks, status and the webhook endpoint
type HTTPServer struct {
	bot         *Bot
	webhookMode bool
}

// NewHTTPServer creates a new HTTP server for the bot
func NewHTTPServer(bot *Bot, webhookMode bool) *HTTPServer {
	return &HTTPServer{
		bot:         bot,
		webhookMode: webhookMode,
	}
}

// StatusResponse is the body of /status
type StatusResponse struct {
	Mode        string `json:"mode"`
	ActiveFlows int    `json:"active_flows"`
}

// RegisterRoutes registers the bot routes on the provided mux
func (hs *HTTPServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", hs.handleHealth)
	mux.HandleFunc("/status", hs.handleStatus)
	mux.HandleFunc("/telegram-webhook", hs.handleWebhook)
	mux.HandleFunc("/", hs.handleRoot)
}

func (hs *HTTPServer) mode() string {
	if hs.webhookMode {
		return "webhook"
	}
	return "polling"
}

func (hs *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (hs *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "Session bot is running (mode: %s)", hs.mode())
}

func (hs *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"Method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(StatusResponse{
		Mode:        hs.mode(),
		ActiveFlows: hs.bot.ActiveFlows(),
	})
}

// handleWebhook queues a Telegram update and answers immediately
func (hs *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		hs.bot.logger.Warn("Failed to decode webhook update", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	hs.bot.HandleUpdate(update)
	w.WriteHeader(http.StatusOK)
}
