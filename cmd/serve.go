package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/discovery"
	"github.com/sells-group/outreach-cli/internal/orgtype"
	"github.com/sells-group/outreach-cli/internal/recommend"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the discovery HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env, cfg.Server.CORSOrigins, cfg.Discovery.Timeout()),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

type apiServer struct {
	env        *appEnv
	runTimeout time.Duration
}

// newRouter builds the API routes. runTimeout bounds each discovery run when
// positive.
func newRouter(env *appEnv, corsOrigins []string, runTimeout time.Duration) http.Handler {
	s := &apiServer{env: env, runTimeout: runTimeout}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	if env.Metrics != nil {
		r.Use(env.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", env.Metrics.Handler())
	}

	r.Get("/health", s.handleHealth)
	r.Route("/campaigns/{id}", func(r chi.Router) {
		r.Post("/discover", s.handleDiscover)
		r.Get("/stats", s.handleStats)
		r.Get("/leads", s.handleListLeads)
		r.Delete("/leads", s.handleClearLeads)
	})
	r.Get("/recommendations", s.handleRecommendations)
	r.Post("/rules/seed", s.handleSeedRules)
	r.Get("/geocode", s.handleGeocode)
	return r
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleDiscover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	res, err := s.env.Orchestrator.Discover(ctx, chi.URLParam(r, "id"))
	if err != nil {
		sendStoreError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, res)
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.env.Orchestrator.GetDiscoveryStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		sendStoreError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, st)
}

type campaignLeadView struct {
	discovery.CampaignLead
	Context recommend.TemplateContext `json:"context"`
}

func (s *apiServer) handleListLeads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if _, err := s.env.Store.GetCampaign(ctx, id); err != nil {
		sendStoreError(w, err)
		return
	}
	cls, err := s.env.Store.ListCampaignLeads(ctx, id)
	if err != nil {
		sendStoreError(w, err)
		return
	}

	out := make([]campaignLeadView, len(cls))
	for i, cl := range cls {
		var contact recommend.Contact
		if cl.Lead != nil {
			contact = cl.Lead.Contact()
		}
		out[i] = campaignLeadView{
			CampaignLead: cl,
			Context:      recommend.ContextFromCampaignLead(contact, cl.RecommendedServices, cl.RecommendationReason),
		}
	}
	sendJSON(w, http.StatusOK, map[string]any{"campaign_id": id, "leads": out})
}

func (s *apiServer) handleClearLeads(w http.ResponseWriter, r *http.Request) {
	n, err := s.env.Orchestrator.ClearDiscoveredLeads(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		sendStoreError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

type recommendationResponse struct {
	OrganizationType orgtype.Type              `json:"organization_type"`
	Matches          []recommend.Match         `json:"matches"`
	Bonus            int                       `json:"bonus"`
	Quality          string                    `json:"quality"`
	Context          recommend.TemplateContext `json:"context"`
}

// handleRecommendations matches an ad hoc lead described by query
// parameters: organization, booked (campaign service), past (repeatable),
// and the contact fields.
func (s *apiServer) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	in := recommend.Input{Organization: q.Get("organization")}
	in.OrganizationType = orgtype.Classify(in.Organization)
	if b := q.Get("booked"); b != "" {
		st, ok := recommend.ParseServiceType(b)
		if !ok {
			sendError(w, http.StatusBadRequest, "unknown service type: "+b)
			return
		}
		in.CampaignService = st
	}
	for _, p := range q["past"] {
		st, ok := recommend.ParseServiceType(p)
		if !ok {
			sendError(w, http.StatusBadRequest, "unknown service type: "+p)
			return
		}
		in.PastServices = append(in.PastServices, st)
	}

	matches, err := s.env.Engine.Recommend(r.Context(), in)
	if err != nil {
		zap.L().Error("recommendations failed", zap.Error(err))
		sendError(w, http.StatusInternalServerError, "failed to load recommendations")
		return
	}
	if matches == nil {
		matches = []recommend.Match{}
	}

	bonus := recommend.Bonus(matches)
	sendJSON(w, http.StatusOK, recommendationResponse{
		OrganizationType: in.OrganizationType,
		Matches:          matches,
		Bonus:            bonus,
		Quality:          recommend.Quality(bonus),
		Context: recommend.BuildTemplateContext(recommend.Contact{
			FirstName:    q.Get("first_name"),
			LastName:     q.Get("last_name"),
			Organization: in.Organization,
			Email:        q.Get("email"),
		}, matches),
	})
}

// handleSeedRules seeds the built-in rules, or the YAML rule list in the
// request body when one is sent. ?clear=true deletes existing rules first.
func (s *apiServer) handleSeedRules(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		sendError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	rules := recommend.DefaultRules()
	if len(body) > 0 {
		rules, err = recommend.ParseRules(body)
		if err != nil {
			sendError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	clearFirst, _ := strconv.ParseBool(r.URL.Query().Get("clear"))
	res, err := recommend.Seed(r.Context(), s.env.Store, rules, clearFirst)
	if err != nil {
		zap.L().Error("seed rules failed", zap.Error(err))
		sendError(w, http.StatusInternalServerError, "failed to seed rules")
		return
	}
	s.env.Engine.ClearCache()
	sendJSON(w, http.StatusOK, res)
}

func (s *apiServer) handleGeocode(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Query().Get("address")
	if addr == "" {
		sendError(w, http.StatusBadRequest, "address is required")
		return
	}
	res, err := s.env.Geocoder.Geocode(r.Context(), addr)
	if err != nil {
		sendError(w, http.StatusBadGateway, "geocoding failed")
		return
	}
	if res == nil {
		sendError(w, http.StatusNotFound, "address not found")
		return
	}
	sendJSON(w, http.StatusOK, res)
}

func sendStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, discovery.ErrCampaignNotFound):
		sendError(w, http.StatusNotFound, "campaign not found")
	case errors.Is(err, context.DeadlineExceeded):
		sendError(w, http.StatusGatewayTimeout, "discovery timed out")
	default:
		zap.L().Error("request failed", zap.Error(err))
		sendError(w, http.StatusInternalServerError, "internal error")
	}
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, map[string]string{"error": message})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
