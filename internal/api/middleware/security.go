package middleware

import (
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/mssola/useragent"

	"github.com/nikhilbhutani/tenantgate/internal/metrics"
)

const permissionsPolicy = `accelerometer=(), camera=(), geolocation=(self), gyroscope=(), magnetometer=(), microphone=(), payment=(self), usb=()`

func SecurityHeaders(production bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", permissionsPolicy)
			if production {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
				h.Set("X-Robots-Tag", "noindex, nofollow, nosnippet, noarchive")
			}
			next.ServeHTTP(w, r)
		})
	}
}

var (
	botPattern  = regexp.MustCompile(`(?i)bot|crawl|spider|scrape|curl|wget`)
	allowedBots = []string{"googlebot", "bingbot", "slurp", "duckduckbot"}
)

// IsBot reports whether ua looks automated and whether it is a search engine
// crawler that should still be served.
func IsBot(ua string) (bot, allowed bool) {
	if ua == "" {
		return false, false
	}
	bot = useragent.New(ua).Bot() || botPattern.MatchString(ua)
	if !bot {
		return false, false
	}
	lower := strings.ToLower(ua)
	for _, b := range allowedBots {
		if strings.Contains(lower, b) {
			return true, true
		}
	}
	return true, false
}

// BotDetection tags every response with X-Bot-Detected and, when block is
// set, rejects bots that are not search engine crawlers.
func BotDetection(block bool, m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ua := r.UserAgent()
			bot, allowed := IsBot(ua)
			if bot {
				w.Header().Set("X-Bot-Detected", "true")
				if block && !allowed {
					logger.Info("bot blocked", "user_agent", ua, "remote_addr", clientIP(r))
					m.IncBotBlocked()
					http.Error(w, "Bot access not allowed", http.StatusForbidden)
					return
				}
			} else {
				w.Header().Set("X-Bot-Detected", "false")
			}
			next.ServeHTTP(w, r)
		})
	}
}
