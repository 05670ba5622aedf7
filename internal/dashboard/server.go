package dashboard

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"fixturefeed/config"
	"fixturefeed/internal/history"
	"fixturefeed/internal/metrics"
	"fixturefeed/internal/query"
	"fixturefeed/logger"
	"fixturefeed/models"
	"fixturefeed/processor"
	"fixturefeed/writer"
)

//go:embed templates/*.tmpl
var embeddedFS embed.FS

// FeedSource is the cache as seen by the HTTP layer.
type FeedSource interface {
	GetOrRefresh(ctx context.Context) (*models.CacheEntry, error)
	Clear()
	Peek() *models.CacheEntry
}

// HistorySource lists past refreshes, newest first.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]history.Run, error)
}

// Server hosts the fixture dashboard: the JSON query API, the refresh
// control, websocket refresh events and the monitoring endpoints.
type Server struct {
	cfg               config.DashboardConfig
	display           config.DisplayConfig
	loc               *time.Location
	feed              FeedSource
	log               *logger.Log
	metricStore       *metricStore
	logStore          *logStore
	stopMetrics       func()
	httpServer        *http.Server
	refreshIntervalMs int
	resourceSampler   *resourceSampler
	hub               *Hub
	promHandler       http.Handler
	history           HistorySource
}

type Option func(*Server)

// WithHub shares a hub that is also wired to the cache fill hook.
func WithHub(h *Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithMetricsHandler exposes h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.promHandler = h }
}

// WithHistory serves the refresh trail on /api/history.
func WithHistory(h HistorySource) Option {
	return func(s *Server) { s.history = h }
}

// NewServer constructs a dashboard server when the dashboard feature is enabled.
// When the dashboard is disabled the returned server will be nil.
func NewServer(cfg config.DashboardConfig, display config.DisplayConfig, feed FeedSource, log *logger.Log, opts ...Option) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if feed == nil {
		return nil, errors.New("dashboard requires a feed source")
	}

	loc, err := time.LoadLocation(display.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load display timezone: %w", err)
	}
	if display.DateLayout == "" {
		display.DateLayout = "02 Jan 2006"
	}
	if display.DateTimeLayout == "" {
		display.DateTimeLayout = "02 Jan 2006 15:04"
	}

	cfg.Address = normalizeAddress(cfg.Address)

	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}

	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}

	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	stopMetrics := metrics.Subscribe(metricStore.handle)

	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	sampler := newResourceSampler(cfg.MetricsHistory, cfg.RefreshInterval, "/", log)
	sampler.cached = feed.Peek

	server := &Server{
		cfg:               cfg,
		display:           display,
		loc:               loc,
		feed:              feed,
		log:               log,
		metricStore:       metricStore,
		logStore:          logStore,
		stopMetrics:       stopMetrics,
		refreshIntervalMs: int(cfg.RefreshInterval / time.Millisecond),
		resourceSampler:   sampler,
	}
	for _, opt := range opts {
		opt(server)
	}
	if server.hub == nil {
		server.hub = NewHub(log)
	}

	return server, nil
}

// Run starts the dashboard HTTP server and blocks until the provided context is
// cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	if s.resourceSampler != nil {
		s.resourceSampler.start(ctx)
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": s.cfg.Address}).Info("dashboard listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) cleanup() {
	s.stopMetrics()
	if s.logStore != nil {
		s.logStore.close()
	}
	if s.resourceSampler != nil {
		s.resourceSampler.stop()
	}
	if s.hub != nil {
		s.hub.Close()
	}
}

// Address reports the network address the dashboard server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	tmpl := template.Must(template.New("dashboard").ParseFS(embeddedFS, "templates/index.tmpl"))
	router.SetHTMLTemplate(tmpl)

	router.GET("/", func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.tmpl", gin.H{
			"AppName":           appName,
			"RefreshIntervalMs": s.refreshIntervalMs,
		})
	})

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/fixtures", s.handleFixtures)
	api.GET("/rows", s.handleRows)
	api.GET("/chart", s.handleChart)
	api.POST("/refresh", s.handleRefresh)
	api.GET("/export.parquet", s.handleExport)
	api.GET("/history", s.handleHistory)

	api.GET("/metrics", func(c *gin.Context) {
		metricsSnapshot := s.metricStore.snapshot()
		if name := c.Query("name"); name != "" {
			metricsSnapshot = s.metricStore.byName(name)
		}
		payload := make([]gin.H, 0, len(metricsSnapshot))
		for _, m := range metricsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"name":      m.Name,
				"value":     m.Value,
				"type":      m.Type,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	api.GET("/logs", func(c *gin.Context) {
		records := s.logStore.snapshot()
		if raw := c.Query("level"); raw != "" {
			level, err := logrus.ParseLevel(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			records = s.logStore.atLeast(level)
		}
		c.JSON(http.StatusOK, gin.H{"logs": records})
	})

	api.GET("/resources", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resources": s.resourceSampler.snapshot()})
	})

	if s.promHandler != nil {
		router.GET("/metrics", gin.WrapH(s.promHandler))
	}

	router.GET("/ws", func(c *gin.Context) {
		s.hub.ServeHTTP(c.Writer, c.Request)
	})

	return router, nil
}

// entry loads the current table. A stale entry returned together with a
// refresh error is still served and flagged with a header.
func (s *Server) entry(c *gin.Context) (*models.CacheEntry, bool) {
	entry, err := s.feed.GetOrRefresh(c.Request.Context())
	if err != nil {
		if entry == nil {
			s.writeFeedError(c, err)
			return nil, false
		}
		s.log.WithComponent("dashboard").WithError(err).Warn("serving previous table after failed refresh")
		c.Header("X-Feed-Stale", "true")
	}
	return entry, true
}

func (s *Server) writeFeedError(c *gin.Context, err error) {
	kind := processor.ErrorKind(err)
	status := http.StatusInternalServerError
	switch kind {
	case processor.KindTransport:
		status = http.StatusBadGateway
	case processor.KindSchema, processor.KindParse:
		status = http.StatusUnprocessableEntity
	}

	body := gin.H{"error": err.Error(), "kind": kind}
	var mce *processor.MissingColumnsError
	if errors.As(err, &mce) {
		body["missing"] = mce.Missing
	}
	c.JSON(status, body)
}

func (s *Server) statusPayload(entry *models.CacheEntry) gin.H {
	if entry == nil {
		return gin.H{"refreshed": false, "timezone": s.loc.String()}
	}
	return gin.H{
		"refreshed":         true,
		"last_refreshed":    entry.CreatedAt.In(s.loc).Format(s.display.DateTimeLayout + " MST"),
		"last_refreshed_at": entry.CreatedAt.UTC().Format(time.RFC3339),
		"timezone":          s.loc.String(),
		"run_id":            entry.RunID,
		"token":             entry.Token,
		"schema_version":    entry.Table.Schema.Version,
		"rows":              entry.Table.Len(),
		"skipped":           entry.Table.Skipped,
		"dropped":           entry.Table.Dropped,
		"issues":            len(entry.Table.Issues),
		"ws_clients":        s.hub.Clients(),
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.statusPayload(s.feed.Peek()))
}

func (s *Server) handleFixtures(c *gin.Context) {
	entry, ok := s.entry(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"fixtures": query.Fixtures(entry.Table)})
}

func (s *Server) handleRows(c *gin.Context) {
	entry, ok := s.entry(c)
	if !ok {
		return
	}

	var rows []models.NormalizedRow
	if fixture, set := c.GetQuery("fixture"); set {
		rows = query.RowsForFixture(entry.Table, fixture)
	} else {
		rows = append([]models.NormalizedRow{}, entry.Table.Rows...)
	}

	switch c.Query("order") {
	case "", "source":
	case "match_date":
		rows = query.SortByMatchDate(rows)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "order must be source or match_date"})
		return
	}

	views := make([]rowView, 0, len(rows))
	for _, r := range rows {
		views = append(views, s.viewRow(r))
	}
	c.JSON(http.StatusOK, gin.H{"rows": views, "count": len(views)})
}

func (s *Server) handleChart(c *gin.Context) {
	fixture := c.Query("fixture")
	if fixture == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fixture is required"})
		return
	}
	entry, ok := s.entry(c)
	if !ok {
		return
	}

	points := []models.ChartPoint{}
	if row, found := query.FirstForFixture(entry.Table, fixture); found {
		points = query.ChartSeries(row)
	}
	c.JSON(http.StatusOK, gin.H{"fixture": fixture, "points": points})
}

func (s *Server) handleRefresh(c *gin.Context) {
	s.feed.Clear()
	entry, err := s.feed.GetOrRefresh(c.Request.Context())
	if err != nil {
		s.writeFeedError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.statusPayload(entry))
}

func (s *Server) handleExport(c *gin.Context) {
	entry, ok := s.entry(c)
	if !ok {
		return
	}
	data, err := writer.EncodeTable(entry.Table, "snappy")
	if err != nil {
		s.log.WithComponent("dashboard").WithError(err).Error("parquet export failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "kind": processor.KindInternal})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="fixtures-%s.parquet"`, entry.RunID))
	c.Data(http.StatusOK, "application/vnd.apache.parquet", data)
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "refresh history is disabled"})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	runs, err := s.history.Recent(c.Request.Context(), limit)
	if err != nil {
		s.log.WithComponent("dashboard").WithError(err).Warn("failed to read refresh history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "kind": processor.KindInternal})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
