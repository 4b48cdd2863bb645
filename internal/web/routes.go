package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/mspsdc/helpdesk/internal/assistant"
	"github.com/mspsdc/helpdesk/internal/conversation"
	"github.com/mspsdc/helpdesk/internal/fallback"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes sets up all routes except the webhook.
func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/api/health", s.handleHealth)
	router.GET("/api/llm/status", s.handleLLMStatus)
	router.POST("/api/mode/:mode", s.handleMode)
	router.GET("/api/ollama/setup", s.handleOllamaSetup)

	chat := router.Group("/", s.webSession())
	chat.GET("/", s.handleIndex)
	chat.POST("/api/chat/send", s.handleSend)
	chat.GET("/api/chat/history", s.handleHistory)
	chat.POST("/api/chat/clear", s.handleClear)
}

// historyItem is one chat bubble as the browser renders it.
type historyItem struct {
	Type      string    `json:"type"` // "user" or "bot"
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func toHistory(turns []conversation.Turn) []historyItem {
	out := make([]historyItem, 0, len(turns))
	for _, t := range turns {
		kind := "bot"
		if t.Role == conversation.RoleUser {
			kind = "user"
		}
		out = append(out, historyItem{Type: kind, Message: t.Content, Timestamp: t.Timestamp})
	}
	return out
}

func (s *Server) handleIndex(c *gin.Context) {
	c.HTML(http.StatusOK, "chat.html", gin.H{
		"mode":     s.mode.Name(),
		"enhanced": s.mode.Enhanced(),
	})
}

type sendRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON provided"})
		return
	}
	text := strings.TrimSpace(req.Message)
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message cannot be empty"})
		return
	}

	reply, err := s.chat.HandleSync(c.Request.Context(), assistant.Inbound{
		Channel:    Channel,
		UserID:     sessionID(c),
		Text:       text,
		ReceivedAt: s.now(),
	})
	if err != nil {
		log.Error("web: send", "session", sessionID(c), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"bot_response": reply.Text,
		"backend":      reply.Backend,
		"chat_history": toHistory(reply.History),
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	turns, err := s.chat.History(c.Request.Context(), Channel, sessionID(c))
	if err != nil {
		log.Error("web: history", "session", sessionID(c), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "chat_history": toHistory(turns)})
}

func (s *Server) handleClear(c *gin.Context) {
	if err := s.chat.Reset(c.Request.Context(), Channel, sessionID(c)); err != nil {
		log.Error("web: clear", "session", sessionID(c), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Chat history cleared"})
}

func (s *Server) handleHealth(c *gin.Context) {
	st := s.status.Status(c.Request.Context())
	body := gin.H{
		"status":        "healthy",
		"timestamp":     s.now().Format(time.RFC3339),
		"service":       "MSPSDC Chatbot",
		"mode":          s.mode.Name(),
		"enhanced_mode": st.EnhancedMode,
		"services": gin.H{
			"main_llm":  st.MainLLMAvailable,
			"local_llm": st.LocalLLMAvailable,
		},
		"active_service": st.ActiveService,
		"service_status": st.ServiceStatus,
	}
	if s.stats != nil {
		if stats, err := s.stats.Stats(c.Request.Context()); err != nil {
			log.Warn("web: exchange stats", "err", err)
		} else {
			body["exchanges"] = stats
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleLLMStatus(c *gin.Context) {
	st := s.status.Status(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"main_llm_available":    st.MainLLMAvailable,
		"local_llm_available":   st.LocalLLMAvailable,
		"enhanced_mode_enabled": st.EnhancedMode,
		"main_service_url":      s.backends.PrimaryURL,
		"local_service_url":     s.backends.LocalURL,
		"local_model":           s.backends.LocalModel,
		"active_service":        st.ActiveService,
		"service_status":        st.ServiceStatus,
		"recommendation":        st.Recommendation,
	})
}

func (s *Server) handleMode(c *gin.Context) {
	switch c.Param("mode") {
	case "demo":
		s.mode.SetEnhanced(false)
		log.Info("web: mode switched", "mode", "demo")
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"mode":    "demo",
			"message": "Switched to demo mode",
		})

	case "enhanced":
		st := s.status.Status(c.Request.Context())
		if !st.AnyLLM() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"success":            false,
				"error":              "No LLM service available",
				"setup_instructions": s.setupInstructions(),
			})
			return
		}
		s.mode.SetEnhanced(true)
		log.Info("web: mode switched", "mode", "enhanced", "main_llm", st.MainLLMAvailable, "local_llm", st.LocalLLMAvailable)

		body := gin.H{"success": true, "mode": "enhanced"}
		if st.MainLLMAvailable {
			body["message"] = "Switched to enhanced mode with main LLM service"
		} else {
			body["message"] = "Switched to enhanced mode with local LLM"
			body["details"] = "Using " + s.backends.LocalModel + " via Ollama at " + s.backends.LocalURL
		}
		c.JSON(http.StatusOK, body)

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid mode. Use 'demo' or 'enhanced'"})
	}
}

type setupStep struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

type envVar struct {
	Current     string `json:"current"`
	Description string `json:"description"`
}

func (s *Server) setupInstructions() map[string]setupStep {
	return map[string]setupStep{
		"install_ollama": {
			Command:     "curl -fsSL https://ollama.ai/install.sh | sh",
			Description: "Install Ollama on Linux/macOS",
		},
		"start_ollama": {
			Command:     "ollama serve",
			Description: "Start the Ollama server",
		},
		"install_llama3": {
			Command:     "ollama pull " + s.backends.LocalModel,
			Description: "Download the " + s.backends.LocalModel + " model",
		},
		"verify_installation": {
			Command:     "curl " + s.backends.LocalURL + "/api/tags",
			Description: "Check that the model is listed",
		},
	}
}

func (s *Server) handleOllamaSetup(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"setup_instructions": s.setupInstructions(),
		"environment_variables": map[string]envVar{
			"OLLAMA_BASE_URL":   {Current: s.backends.LocalURL, Description: "URL of Ollama server"},
			"OLLAMA_MODEL":      {Current: s.backends.LocalModel, Description: "Model to use for local answers"},
			"LLM_SERVICE_URL":   {Current: s.backends.PrimaryURL, Description: "URL of the main LLM service"},
			"USE_ENHANCED_MODE": {Current: strconv.FormatBool(s.mode.Enhanced()), Description: "Try the main LLM service before local and demo answers"},
		},
		"benefits": []string{
			"No API costs - completely free local inference",
			"Works offline once model is downloaded",
			"Full conversation context and memory",
			"Answers keep flowing when the main LLM service is down",
		},
	})
}

var _ StatusReporter = (*fallback.StatusReporter)(nil)
