package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fiffu/feedrelay/config"
	"github.com/fiffu/feedrelay/lib"
	"github.com/fiffu/feedrelay/lib/models"
	"github.com/fiffu/feedrelay/lib/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewHTTPServer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, svc *lib.Service) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: router(cfg, log, svc)}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Sugar().Errorw("HTTP server stopped", "err", err)
				}
			}()
			log.Sugar().Infow("HTTP server listening", "addr", addr)
			return nil
		},
		OnStop: srv.Shutdown,
	})

	return srv
}

func router(cfg *config.Config, log *zap.Logger, svc *lib.Service) http.Handler {
	ctrl := &controller{log, svc}
	telemetry.Init()

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if creds := cfg.GetCreds(); len(creds) > 0 {
			r.Use(middleware.BasicAuth("feedrelay", creds))
		} else {
			log.Sugar().Info("Auth is disabled since no credentials are defined")
		}

		r.Route("/sinks/{sink_id}", func(r chi.Router) {
			r.Delete("/", ctrl.purgeSink)
			r.Get("/subscriptions", ctrl.listSubscriptions)
			r.Post("/subscriptions", ctrl.subscribe)
			r.Delete("/subscriptions", ctrl.unsubscribe)
		})
	})

	return r
}

type controller struct {
	log *zap.Logger
	svc *lib.Service
}

func (ctrl *controller) reject(w http.ResponseWriter, status int, err error) {
	if err != nil {
		http.Error(w, err.Error(), status)
	} else {
		w.WriteHeader(status)
	}
}

// fail maps service errors onto statuses.
func (ctrl *controller) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, models.ErrInvalidSource) {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}
	ctrl.log.Sugar().Errorw("Request failed", "err", err)
	ctrl.reject(w, http.StatusInternalServerError, err)
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	if b, err := json.Marshal(body); err != nil {
		ctrl.reject(w, http.StatusInternalServerError, err)
		ctrl.log.Sugar().Errorw("Request failed", "err", err)
		return
	} else {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if b != nil {
			w.Write(b)
		}
	}
}

func (ctrl *controller) subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sinkID := sinkParam(r)
	source := r.FormValue("source")

	kind, err := models.ParseSourceKind(r.FormValue("kind"))
	if err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}
	if source == "" {
		ctrl.reject(w, http.StatusBadRequest, errors.New("source is required"))
		return
	}

	res, err := ctrl.svc.Subscribe(ctx, sinkID, kind, source, parseOptions(r))
	if err != nil {
		ctrl.fail(w, err)
		return
	}

	status := http.StatusOK
	if res.Status == lib.StatusSubscribed {
		status = http.StatusCreated
	}
	ctrl.resolve(w, status, ResultView{}.From(res))
}

func (ctrl *controller) unsubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sinkID := sinkParam(r)
	source := r.FormValue("source")

	kind, err := models.ParseSourceKind(r.FormValue("kind"))
	if err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}

	res, err := ctrl.svc.Unsubscribe(ctx, sinkID, kind, source)
	if err != nil {
		ctrl.fail(w, err)
		return
	}

	status := http.StatusOK
	if res.Status == lib.StatusNotSubscribed {
		status = http.StatusNotFound
	}
	ctrl.resolve(w, status, ResultView{}.From(res))
}

func (ctrl *controller) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sinkID := sinkParam(r)

	kinds := []models.SourceKind{models.SourceFeed, models.SourceStream}
	if k := r.FormValue("kind"); k != "" {
		kind, err := models.ParseSourceKind(k)
		if err != nil {
			ctrl.reject(w, http.StatusBadRequest, err)
			return
		}
		kinds = []models.SourceKind{kind}
	}

	var all models.Subscriptions
	for _, kind := range kinds {
		subs, err := ctrl.svc.List(ctx, sinkID, kind)
		if err != nil {
			ctrl.fail(w, err)
			return
		}
		all = append(all, subs...)
	}
	ctrl.resolve(w, http.StatusOK, FromMany[models.Subscription, SubscriptionView](all))
}

func (ctrl *controller) purgeSink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sinkID := sinkParam(r)

	n, err := ctrl.svc.PurgeSink(ctx, sinkID)
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"removed": n})
}

// sinkParam unescapes the sink id, which may itself contain slashes.
func sinkParam(r *http.Request) string {
	raw := chi.URLParam(r, "sink_id")
	if s, err := url.PathUnescape(raw); err == nil {
		return s
	}
	return raw
}

func parseOptions(r *http.Request) models.SubscriptionOptions {
	opts := models.SubscriptionOptions{
		IncludeRetweets: parseBool(r.FormValue("include_retweets")),
		IncludeReplies:  parseBool(r.FormValue("include_replies")),
	}
	for _, kw := range strings.Split(r.FormValue("keywords"), ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			opts.Keywords = append(opts.Keywords, kw)
		}
	}
	return opts
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}
