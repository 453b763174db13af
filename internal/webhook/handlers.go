package webhook

import (
	"errors"
	"io"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shineum/mail-relay-webhook/internal/dispatch"
	"github.com/shineum/mail-relay-webhook/internal/logging"
	"github.com/shineum/mail-relay-webhook/internal/provider"
	"github.com/shineum/mail-relay-webhook/internal/recipients"
	"github.com/shineum/mail-relay-webhook/internal/relay"
)

const (
	serviceName      = "Mail Relay Webhook"
	recentLogEntries = 10
)

// edgeHeaders are set by the edge mail router. They are logged for
// diagnostics and otherwise ignored.
var edgeHeaders = []string{
	"X-Cloudflare-Email-From",
	"X-Cloudflare-Email-To",
	"X-Original-From",
	"X-Original-To",
	"X-Original-Subject",
}

func (s *Server) handleWebhook(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()
	log := logging.FromContext(ctx)
	requestID := c.GetString(requestIDKey)

	elapsed := func() int64 { return time.Since(start).Milliseconds() }

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn("webhook body too large", "limit", s.config.MaxBodySize)
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"success":        false,
				"error":          "Payload too large",
				"requestId":      requestID,
				"processingTime": elapsed(),
			})
			return
		}
		log.Warn("could not read webhook body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"success":        false,
			"error":          "Malformed message",
			"message":        "could not read request body",
			"requestId":      requestID,
			"processingTime": elapsed(),
		})
		return
	}

	attrs := []any{
		"content_type", c.ContentType(),
		"size", len(raw),
		"user_agent", c.Request.UserAgent(),
	}
	for _, h := range edgeHeaders {
		if v := c.GetHeader(h); v != "" {
			attrs = append(attrs, h, v)
		}
	}
	log.Info("webhook received", attrs...)

	out, err := s.processor.Process(ctx, requestID, raw)
	if err != nil {
		var re *relay.Error
		if errors.As(err, &re) && re.Kind == relay.KindMalformed {
			c.JSON(http.StatusBadRequest, gin.H{
				"success":        false,
				"error":          "Malformed message",
				"message":        re.Err.Error(),
				"requestId":      requestID,
				"processingTime": elapsed(),
			})
			return
		}
		log.Error("webhook processing error", "error", err, "processing_time_ms", elapsed())
		c.JSON(http.StatusInternalServerError, gin.H{
			"success":        false,
			"error":          "Internal server error",
			"requestId":      requestID,
			"processingTime": elapsed(),
		})
		return
	}

	switch out.Kind() {
	case relay.KindRejected:
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success":        false,
			"message":        "Email failed validation",
			"reason":         out.Reason,
			"validation":     out.Validation,
			"requestId":      requestID,
			"processingTime": elapsed(),
		})
	case relay.KindDispatchFailed:
		c.JSON(http.StatusFailedDependency, gin.H{
			"success":        false,
			"message":        "Email relay failed",
			"reason":         out.Reason,
			"error":          out.Diagnostic,
			"requestId":      requestID,
			"processingTime": elapsed(),
		})
	default:
		log.Info("webhook processed successfully",
			"email_id", out.MessageID,
			"processing_time_ms", elapsed(),
		)
		c.JSON(http.StatusOK, gin.H{
			"success":        true,
			"message":        "Email relayed successfully",
			"emailId":        out.MessageID,
			"validation":     out.Validation,
			"requestId":      requestID,
			"processingTime": elapsed(),
		})
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Seconds(),
		"memory": gin.H{
			"alloc":      mem.Alloc,
			"heapAlloc":  mem.HeapAlloc,
			"sys":        mem.Sys,
			"numGC":      mem.NumGC,
			"goroutines": runtime.NumGoroutine(),
		},
		"config": gin.H{
			"domain":          s.config.Domain,
			"emailList":       s.config.EmailList,
			"emailListExists": recipients.Exists(s.config.EmailList),
			"transport":       s.config.TransportName,
		},
		"directories": gin.H{
			"logs": dirExists(s.config.LogDir),
			"temp": dirExists(s.config.TempDir),
		},
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()
	log := logging.FromContext(ctx)

	entries, err := logging.Recent(s.config.LogDir, recentLogEntries)
	if err != nil {
		log.Error("could not read recent log entries", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Could not retrieve status",
			"message": "log directory unreadable",
		})
		return
	}

	body := gin.H{
		"server":         serviceName,
		"status":         "running",
		"listen":         s.config.ListenAddr,
		"webhookPath":    s.config.Path,
		"recentActivity": entries,
	}

	if s.config.History != nil {
		records, err := s.config.History.Recent(ctx, recentLogEntries)
		if err != nil {
			log.Warn("could not read relay history", "error", err)
		} else {
			relays := make([]gin.H, 0, len(records))
			for _, r := range records {
				relays = append(relays, gin.H{
					"requestId":  r.RequestID,
					"status":     r.Status,
					"score":      r.Score,
					"emailId":    r.RelayMessageID,
					"diagnostic": provider.Truncate(r.Diagnostic, dispatch.DiagnosticLimit),
					"at":         r.CreatedAt.UTC().Format(time.RFC3339),
				})
			}
			body["recentRelays"] = relays
		}
	}

	c.JSON(http.StatusOK, body)
}

func (s *Server) handleRoot(c *gin.Context) {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	base := scheme + "://" + c.Request.Host

	c.JSON(http.StatusOK, gin.H{
		"service": serviceName,
		"status":  "running",
		"endpoints": gin.H{
			"webhook": base + s.config.Path,
			"health":  base + "/health",
			"status":  base + "/status",
		},
		"configuration": gin.H{
			"domain":    s.config.Domain,
			"emailList": s.config.EmailList,
			"listen":    s.config.ListenAddr,
		},
	})
}

func dirExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
