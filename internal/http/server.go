package http

import (
	"bytes"
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"unitledger/internal/core"
	"unitledger/internal/form"
	"unitledger/internal/log"
	"unitledger/internal/middleware/ratelimit"
	"unitledger/internal/middleware/security"
	"unitledger/internal/middleware/trace"
	appweb "unitledger/web"
)

// Ledger is the part of the ledger store the handlers use.
type Ledger interface {
	form.Store
	Records() []core.ExpenseRecord
	Get(id int64) (core.ExpenseRecord, bool)
	Delete(ctx context.Context, id int64) error
	BeginEdit(record core.ExpenseRecord)
	ClearEdit()
	Len() int
}

// Options tunes a Server. Zero values fall back to defaults.
type Options struct {
	Currency           string
	MaxAttachmentBytes int64
	Logger             *log.Logger
	// Now overrides the clock used for form defaults and export names.
	Now       func() time.Time
	RateLimit ratelimit.Config
	// TrustedProxies are CIDRs whose forwarding headers are believed.
	TrustedProxies []string
}

type appMetrics struct {
	uptime         time.Time
	expensesSaved  int64
	persistFailure int64
	exports        int64
}

type Server struct {
	http.Server
	templates *template.Template
	ledger    Ledger

	currency           string
	maxAttachmentBytes int64
	now                func() time.Time

	logger           *log.Logger
	securityDetector *security.Detector
	rateLimiter      *ratelimit.Limiter
	traceMiddleware  *trace.Middleware
	appMetrics       *appMetrics

	shutdownOnce sync.Once
}

// NewServer configures routes, middleware and templates, returning a
// ready-to-run http.Server.
func NewServer(addr string, ledger Ledger, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.Currency == "" {
		opts.Currency = core.DefaultCurrency
	}
	if opts.MaxAttachmentBytes <= 0 {
		opts.MaxAttachmentBytes = form.DefaultMaxAttachmentBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RateLimit.RequestsPerMinute == 0 {
		opts.RateLimit = ratelimit.DefaultConfig()
	}

	logger := opts.Logger.WithComponent(log.ComponentHTTP)
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
		},
		ledger:             ledger,
		currency:           opts.Currency,
		maxAttachmentBytes: opts.MaxAttachmentBytes,
		now:                opts.Now,
		logger:             logger,
		securityDetector:   security.NewDetector(opts.Logger),
		rateLimiter:        ratelimit.NewLimiter(opts.RateLimit),
		appMetrics:         &appMetrics{uptime: time.Now()},
	}
	for _, cidr := range opts.TrustedProxies {
		if err := s.securityDetector.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", "cidr", cidr, log.FieldError, err)
		}
	}
	s.traceMiddleware = trace.NewMiddleware(opts.Logger, s.securityDetector.ExtractClientIP)

	// Parse embedded templates at startup.
	t, err := template.New("").Funcs(s.templateFuncs()).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		logger.Error("Failed parsing templates", log.FieldError, err, log.FieldErrorType, log.ErrorTypeInternal)
	} else {
		s.templates = t
	}

	// Static assets (served from embedded FS)
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /{$}", s.handleIndex)
	// UI partials
	mux.HandleFunc("GET /ui/summary", s.handleSummary)
	mux.HandleFunc("GET /ui/expenses", s.handleExpenseList)
	mux.HandleFunc("GET /ui/form", s.handleForm)

	mux.HandleFunc("POST /expenses", s.handleSubmitExpense)
	mux.HandleFunc("POST /expenses/{id}/edit", s.handleBeginEdit)
	mux.HandleFunc("POST /expenses/edit/cancel", s.handleCancelEdit)
	mux.HandleFunc("/expenses/{id}/delete", s.handleDeleteExpense)
	mux.HandleFunc("DELETE /expenses/{id}", s.handleDeleteExpense)
	mux.Handle("GET /expenses/{id}/attachment", security.NoStore(http.HandlerFunc(s.handleAttachment)))

	mux.HandleFunc("GET /export.xlsx", s.handleExportXLSX)
	mux.HandleFunc("GET /api/expenses", s.handleAPIList)
	mux.HandleFunc("POST /api/expenses", s.handleAPICreate)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limit := s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, s.rateLimited, http.MethodPost, http.MethodDelete)

	var handler http.Handler = mux
	handler = limit(handler)
	handler = s.securityDetector.Middleware(handler)
	handler = headers.Middleware(handler)
	handler = s.traceMiddleware.Middleware(handler)
	handler = log.Middleware(opts.Logger)(handler)
	s.Handler = handler

	return s
}

func (s *Server) templateFuncs() template.FuncMap {
	return template.FuncMap{
		"money": func(m core.Money) string { return formatMoney(s.currency, m) },
	}
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request) {
	NewHTMXResponse().
		Status(http.StatusTooManyRequests).
		TriggerErrorNotification("Too many requests, try again in a minute").
		BodyHTML(`<div class="error">Rate limit exceeded. Please try again later.</div>`).
		Write(w)
}

// render executes the named template into a buffer so a failing template
// never leaves a half-written response.
func (s *Server) render(ctx context.Context, name string, data any) ([]byte, error) {
	if s.templates == nil {
		return nil, errTemplatesNotLoaded
	}
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Template execution failed",
			log.NewFields().WithOperation(log.OpRender).WithError(err).WithErrorType(log.ErrorTypeInternal).ToSlice()...)
		return nil, err
	}
	return buf.Bytes(), nil
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
		s.logger.InfoContext(ctx, "HTTP server stopped",
			log.FieldOperation, log.OpShutdown,
			"expenses_saved", atomic.LoadInt64(&s.appMetrics.expensesSaved))
	})

	return shutdownErr
}
