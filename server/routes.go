// Package server - HTTP-Inferenz-Server fuer ein trainiertes Modell
// Beinhaltet: Server-Struct, Router-Registrierung, Host-Middleware
package server

import (
	"net"
	"net/http"
	"net/netip"
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/animus/plateocr/predict"
	"github.com/animus/plateocr/version"
)

var mode string = gin.DebugMode

// Server beantwortet Vorhersagen mit einem geladenen Modell.
// Das Modell wird nach dem Laden nur gelesen.
type Server struct {
	addr    net.Addr
	path    string
	model   *predict.Model
	origins []string
}

// New erstellt einen Server fuer das Modell aus path.
// origins sind die erlaubten CORS-Origins.
func New(m *predict.Model, path string, origins []string) *Server {
	return &Server{model: m, path: path, origins: origins}
}

func init() {
	switch mode {
	case gin.DebugMode:
	case gin.ReleaseMode:
	case gin.TestMode:
	default:
		mode = gin.DebugMode
	}

	gin.SetMode(mode)
}

// allowedHost prueft ob der Host erlaubt ist
func allowedHost(host string) bool {
	host = strings.ToLower(host)

	if host == "" || host == "localhost" {
		return true
	}

	if hostname, err := os.Hostname(); err == nil && host == strings.ToLower(hostname) {
		return true
	}

	for _, tld := range []string{"localhost", "local", "internal"} {
		if strings.HasSuffix(host, "."+tld) {
			return true
		}
	}

	return false
}

// allowedHostsMiddleware blockiert fremde Hosts, solange der Server nur auf
// Loopback lauscht
func allowedHostsMiddleware(addr net.Addr) gin.HandlerFunc {
	return func(c *gin.Context) {
		if addr == nil {
			c.Next()
			return
		}

		if addr, err := netip.ParseAddrPort(addr.String()); err == nil && !addr.Addr().IsLoopback() {
			c.Next()
			return
		}

		host, _, err := net.SplitHostPort(c.Request.Host)
		if err != nil {
			host = c.Request.Host
		}

		if addr, err := netip.ParseAddr(host); err == nil {
			if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() {
				c.Next()
				return
			}
		}

		if allowedHost(host) {
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}

			c.Next()
			return
		}

		c.AbortWithStatus(http.StatusForbidden)
	}
}

// GenerateRoutes erstellt und konfiguriert den HTTP-Router
func (s *Server) GenerateRoutes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
	}
	corsConfig.AllowOrigins = s.origins
	if len(corsConfig.AllowOrigins) == 0 {
		// cors.New verweigert eine leere Liste
		corsConfig.AllowOrigins = []string{"http://localhost", "https://localhost"}
	}

	r := gin.Default()
	r.HandleMethodNotAllowed = true
	r.Use(
		cors.New(corsConfig),
		allowedHostsMiddleware(s.addr),
	)

	// Allgemein
	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "plateocr is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "plateocr is running") })
	r.HEAD("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })
	r.GET("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })

	// Modell
	r.GET("/api/show", s.ShowHandler)
	r.POST("/api/predict", s.PredictHandler)

	return r
}
