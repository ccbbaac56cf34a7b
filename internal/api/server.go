// Package api provides the HTTP server for porpulse: the OpenAI- and
// Ollama-compatible inference surface, the model lifecycle and cache CRUD
// endpoints, and a small status dashboard.
//
// Routes:
//
//	GET  /                                  -> status dashboard
//	GET  /static/*                          -> dashboard assets
//	POST /v1/chat/completions               -> OpenAI chat (streaming + non-streaming)
//	POST /v1/completions                    -> OpenAI text completion
//	POST /v1/embeddings                     -> OpenAI embeddings (gated by model_defaults.embeddings_enabled)
//	GET  /v1/models                         -> OpenAI-compatible model list
//	GET  /v1/health                         -> liveness + loaded-model name
//	POST /v1/models/load                    -> load a model by name
//	POST /v1/models/unload                  -> unload the resident model
//	GET  /v1/models/loaded                  -> currently resident model, if any
//	GET  /v1/models/available               -> registry contents
//	GET  /v1/cache                          -> every model's cache list
//	GET  /v1/cache/{model}                  -> one model's cache list
//	GET  /v1/cache/{model}/{name}            -> one cache entry's metadata
//	POST /v1/cache/{model}                  -> save-flagged generate + sidecar metadata
//	DELETE /v1/cache/{model}/{name}          -> delete a cache entry (refuses "system")
//	POST /api/generate                      -> Ollama generate
//	POST /api/chat                          -> Ollama chat
//	GET  /api/tags                          -> Ollama model list
//	GET  /v1/metrics                        -> Prometheus exposition
//	GET  /api/catalog                       -> remote model catalog listing (optional)
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/hartyporpoise/porpulse/internal/cachestore"
	"github.com/hartyporpoise/porpulse/internal/config"
	"github.com/hartyporpoise/porpulse/internal/cpu"
	"github.com/hartyporpoise/porpulse/internal/lifecycle"
	"github.com/hartyporpoise/porpulse/internal/metrics"
	"github.com/hartyporpoise/porpulse/internal/normalize"
	"github.com/hartyporpoise/porpulse/internal/ollamaclient"
	"github.com/hartyporpoise/porpulse/internal/registry"
	"github.com/hartyporpoise/porpulse/internal/rkllm"
	"github.com/hartyporpoise/porpulse/internal/scheduler"
)

// maxRequestBodyBytes caps incoming JSON request bodies at 64 MB, enough
// headroom for a long chat history or a large cache-save prompt.
const maxRequestBodyBytes = 64 * 1024 * 1024

// Server is the porpulse HTTP server.
type Server struct {
	cfg     *config.Config
	topo    *cpu.Topology
	reg     *registry.Registry
	life    *lifecycle.Manager
	sched   *scheduler.Scheduler
	cache   *cachestore.Store
	metrics *metrics.Collector
	promReg *prometheus.Registry
	catalog *ollamaclient.Client // nil when model_catalog.base_url is unset

	mux     *http.ServeMux
	started time.Time
}

// NewServer creates a Server with all routes registered. catalog may be nil.
func NewServer(cfg *config.Config, topo *cpu.Topology, reg *registry.Registry, life *lifecycle.Manager, sched *scheduler.Scheduler, cache *cachestore.Store, mc *metrics.Collector, catalog *ollamaclient.Client) *Server {
	promReg := prometheus.NewRegistry()
	for _, c := range sched.Collectors() {
		promReg.MustRegister(c)
	}
	for _, c := range mc.Collectors() {
		promReg.MustRegister(c)
	}

	s := &Server{
		cfg:     cfg,
		topo:    topo,
		reg:     reg,
		life:    life,
		sched:   sched,
		cache:   cache,
		metrics: mc,
		promReg: promReg,
		catalog: catalog,
		mux:     http.NewServeMux(),
		started: time.Now(),
	}
	s.registerRoutes()
	return s
}

// Run starts the HTTP server on addr (e.g. "0.0.0.0:8080").
func (s *Server) Run(addr string) error {
	log.Info().Str("addr", addr).Msg("porpulse is running")
	srv := &http.Server{
		Addr:    addr,
		Handler: s.mux,
		// ReadHeaderTimeout prevents slow-loris.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// ReadTimeout / WriteTimeout intentionally omitted — streaming
		// SSE responses can legitimately run for minutes.
	}
	return srv.ListenAndServe()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /", s.handleUI)
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFiles))))

	s.mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	s.mux.HandleFunc("POST /v1/completions", s.handleCompletions)
	s.mux.HandleFunc("POST /v1/embeddings", s.handleEmbeddings)
	s.mux.HandleFunc("GET /v1/models", s.handleV1Models)
	s.mux.HandleFunc("GET /v1/health", s.handleHealth)

	s.mux.HandleFunc("POST /v1/models/load", s.handleModelsLoad)
	s.mux.HandleFunc("POST /v1/models/unload", s.handleModelsUnload)
	s.mux.HandleFunc("GET /v1/models/loaded", s.handleModelsLoaded)
	s.mux.HandleFunc("GET /v1/models/available", s.handleModelsAvailable)

	s.mux.HandleFunc("GET /v1/cache", s.handleCacheListAll)
	s.mux.HandleFunc("GET /v1/cache/{model}", s.handleCacheListModel)
	s.mux.HandleFunc("GET /v1/cache/{model}/{name}", s.handleCacheInfo)
	s.mux.HandleFunc("POST /v1/cache/{model}", s.handleCacheSave)
	s.mux.HandleFunc("DELETE /v1/cache/{model}/{name}", s.handleCacheDelete)

	s.mux.HandleFunc("POST /api/generate", s.handleOllamaGenerate)
	s.mux.HandleFunc("POST /api/chat", s.handleOllamaChat)
	s.mux.HandleFunc("GET /api/tags", s.handleOllamaTags)

	s.mux.Handle("GET /v1/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /api/catalog", s.handleCatalog)
}

// -------------------------------------------------------------------------
// UI
// -------------------------------------------------------------------------

func (s *Server) handleUI(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	f, err := staticFiles.Open("index.html")
	if err != nil {
		http.Error(w, "UI not found", http.StatusNotFound)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.Copy(w, f)
}

// -------------------------------------------------------------------------
// Health / model resolution
// -------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	loadedName := ""
	if cur, ok := s.life.Current(); ok {
		loadedName = cur.Name
	}
	snap := s.metrics.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"loaded_model":   loadedName,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"cpu": map[string]interface{}{
			"model":          s.topo.ModelName,
			"physical_cores": s.topo.PhysicalCores,
			"logical_cores":  s.topo.LogicalCores,
		},
		"metrics": snap,
	})
}

// resolveModel picks the model a request should run against: the named
// model (loading it if it isn't already resident), or the currently
// resident model if the request didn't name one. Returns ErrNoModelLoaded
// if neither is available — porpulse never guesses a default to auto-load.
func (s *Server) resolveModel(name string) (lifecycle.Loaded, error) {
	if name != "" {
		return s.life.EnsureLoaded(name)
	}
	if cur, ok := s.life.Current(); ok {
		return cur, nil
	}
	return lifecycle.Loaded{}, lifecycle.ErrNoModelLoaded
}

// -------------------------------------------------------------------------
// Model lifecycle
// -------------------------------------------------------------------------

func (s *Server) handleModelsLoad(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	loaded, err := s.life.Load(req.Name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"model":       loaded.Name,
		"context_len": loaded.Descriptor.ContextLen,
	})
}

func (s *Server) handleModelsUnload(w http.ResponseWriter, r *http.Request) {
	if err := s.life.Unload(); err != nil {
		if err == lifecycle.ErrNoModelLoaded {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleModelsLoaded(w http.ResponseWriter, r *http.Request) {
	cur, ok := s.life.Current()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"loaded": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"loaded":      true,
		"model":       cur.Name,
		"context_len": cur.Descriptor.ContextLen,
	})
}

func (s *Server) handleModelsAvailable(w http.ResponseWriter, r *http.Request) {
	descs := s.reg.List()
	out := make([]map[string]interface{}, 0, len(descs))
	for _, d := range descs {
		out = append(out, map[string]interface{}{
			"name":        d.FriendlyName,
			"context_len": d.ContextLen,
			"size_bytes":  d.SizeBytes,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": out})
}

// -------------------------------------------------------------------------
// OpenAI-compatible endpoints
// -------------------------------------------------------------------------

func (s *Server) handleV1Models(w http.ResponseWriter, r *http.Request) {
	descs := s.reg.List()
	items := make([]normalize.OpenAIModelInfo, 0, len(descs))
	for _, d := range descs {
		items = append(items, normalize.OpenAIModelInfo{
			ID:      d.FriendlyName,
			Object:  "model",
			Created: s.started.Unix(),
			OwnedBy: "porpulse",
		})
	}
	writeJSON(w, http.StatusOK, normalize.OpenAIModelListResponse{Object: "list", Data: items})
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req normalize.OpenAIChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}

	loaded, err := s.resolveModel(req.Model)
	if err != nil {
		writeOpenAIError(w, err)
		return
	}

	ireq, err := normalize.ToInternalChat(req, s.cfg.ChatTemplate, s.cfg.InferenceParams, s.cfg.ModelDefaults)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano())
	created := time.Now().Unix()

	done := s.metrics.RequestStart()
	defer done()
	s.metrics.RecordRequest()

	if ireq.Stream {
		s.streamChat(w, r, loaded, ireq, id, created, req.Model)
		return
	}

	resp, err := s.generate(r.Context(), loaded, ireq)
	if err != nil {
		writeOpenAIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, normalize.FromInternalChat(resp, id, modelLabel(req.Model, loaded), created))
}

func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, loaded lifecycle.Loaded, ireq normalize.Request, id string, created int64, reqModel string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	setSSEHeaders(w)
	model := modelLabel(reqModel, loaded)

	ireq.OnToken = func(token string) {
		normalize.WriteSSEChunk(w, flusher, normalize.ChatTokenChunk(id, model, created, token))
	}

	resp, err := s.generate(r.Context(), loaded, ireq)
	if err != nil {
		normalize.WriteSSEChunk(w, flusher, normalize.NewOpenAIError(err.Error(), "server_error"))
		normalize.WriteSSEDone(w, flusher)
		return
	}
	normalize.WriteSSEChunk(w, flusher, normalize.ChatFinalChunk(id, model, created, resp))
	normalize.WriteSSEDone(w, flusher)
}

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	var req normalize.OpenAICompletionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	loaded, err := s.resolveModel(req.Model)
	if err != nil {
		writeOpenAIError(w, err)
		return
	}

	ireq := normalize.ToInternalCompletion(req, s.cfg.InferenceParams, s.cfg.ModelDefaults)
	id := fmt.Sprintf("cmpl-%d", time.Now().UnixNano())
	created := time.Now().Unix()

	done := s.metrics.RequestStart()
	defer done()
	s.metrics.RecordRequest()

	if ireq.Stream {
		s.streamCompletion(w, r, loaded, ireq, id, created, req.Model)
		return
	}
	resp, err := s.generate(r.Context(), loaded, ireq)
	if err != nil {
		writeOpenAIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, normalize.FromInternalCompletion(resp, id, modelLabel(req.Model, loaded), created))
}

func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, loaded lifecycle.Loaded, ireq normalize.Request, id string, created int64, reqModel string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	setSSEHeaders(w)
	model := modelLabel(reqModel, loaded)

	ireq.OnToken = func(token string) {
		normalize.WriteSSEChunk(w, flusher, normalize.CompletionTokenChunk(id, model, created, token))
	}

	resp, err := s.generate(r.Context(), loaded, ireq)
	if err != nil {
		normalize.WriteSSEChunk(w, flusher, normalize.NewOpenAIError(err.Error(), "server_error"))
		normalize.WriteSSEDone(w, flusher)
		return
	}
	normalize.WriteSSEChunk(w, flusher, normalize.CompletionFinalChunk(id, model, created, resp))
	normalize.WriteSSEDone(w, flusher)
}

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.ModelDefaults.EmbeddingsEnabled {
		http.Error(w, "embeddings are disabled (model_defaults.embeddings_enabled=false)", http.StatusNotImplemented)
		return
	}
	var req normalize.OpenAIEmbeddingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	loaded, err := s.resolveModel(req.Model)
	if err != nil {
		writeOpenAIError(w, err)
		return
	}

	var vector []float32
	err = s.sched.Run(r.Context(), func(ctx context.Context) error {
		v, embedErr := loaded.Engine.Embed(ctx, req.Input)
		vector = v
		return embedErr
	})
	if err != nil {
		writeOpenAIError(w, err)
		return
	}

	resp := normalize.Response{Embedding: vector, PrefillTokens: len(req.Input)}
	writeJSON(w, http.StatusOK, normalize.FromInternalEmbedding(resp, modelLabel(req.Model, loaded)))
}

// -------------------------------------------------------------------------
// Ollama-compatible endpoints
// -------------------------------------------------------------------------

func (s *Server) handleOllamaGenerate(w http.ResponseWriter, r *http.Request) {
	var req normalize.OllamaGenerateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	loaded, err := s.resolveModel(req.Model)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	ireq := normalize.ToInternalGenerate(req, s.cfg.ChatTemplate, s.cfg.InferenceParams, s.cfg.ModelDefaults)

	done := s.metrics.RequestStart()
	defer done()
	s.metrics.RecordRequest()

	model := modelLabel(req.Model, loaded)
	if ireq.Stream {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		setSSEHeaders(w)
		ireq.OnToken = func(token string) {
			normalize.WriteSSEChunk(w, flusher, normalize.GenerateTokenChunk(model, time.Now(), token))
		}
		resp, err := s.generate(r.Context(), loaded, ireq)
		if err != nil {
			normalize.WriteSSEChunk(w, flusher, map[string]string{"error": err.Error()})
			return
		}
		normalize.WriteSSEChunk(w, flusher, normalize.FromInternalGenerate(resp, model, time.Now()))
		return
	}

	resp, err := s.generate(r.Context(), loaded, ireq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, normalize.FromInternalGenerate(resp, model, time.Now()))
}

func (s *Server) handleOllamaChat(w http.ResponseWriter, r *http.Request) {
	var req normalize.OllamaChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	loaded, err := s.resolveModel(req.Model)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	ireq := normalize.ToInternalOllamaChat(req, s.cfg.ChatTemplate, s.cfg.InferenceParams, s.cfg.ModelDefaults)

	done := s.metrics.RequestStart()
	defer done()
	s.metrics.RecordRequest()

	model := modelLabel(req.Model, loaded)
	if ireq.Stream {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		setSSEHeaders(w)
		ireq.OnToken = func(token string) {
			normalize.WriteSSEChunk(w, flusher, normalize.ChatStreamTokenChunk(model, time.Now(), token))
		}
		resp, err := s.generate(r.Context(), loaded, ireq)
		if err != nil {
			normalize.WriteSSEChunk(w, flusher, map[string]string{"error": err.Error()})
			return
		}
		normalize.WriteSSEChunk(w, flusher, normalize.FromInternalOllamaChat(resp, model, time.Now()))
		return
	}

	resp, err := s.generate(r.Context(), loaded, ireq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, normalize.FromInternalOllamaChat(resp, model, time.Now()))
}

func (s *Server) handleOllamaTags(w http.ResponseWriter, r *http.Request) {
	descs := s.reg.List()
	models := make([]normalize.OllamaModelTag, 0, len(descs))
	for _, d := range descs {
		models = append(models, normalize.OllamaModelTag{
			Name: d.FriendlyName,
			Size: d.SizeBytes,
			Details: normalize.OllamaModelDetails{
				Format: "rkllm",
			},
		})
	}
	writeJSON(w, http.StatusOK, normalize.OllamaTagsResponse{Models: models})
}

// -------------------------------------------------------------------------
// Cache CRUD
// -------------------------------------------------------------------------

func (s *Server) handleCacheListAll(w http.ResponseWriter, r *http.Request) {
	all, err := s.cache.ListAll()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) handleCacheListModel(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	list, err := s.cache.List(model)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCacheInfo(w http.ResponseWriter, r *http.Request) {
	model, name := r.PathValue("model"), r.PathValue("name")
	info, err := s.cache.Info(model, name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if info == nil {
		http.Error(w, "cache not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleCacheSave drives a save-flagged generate call against the prompt
// supplied in the request body: the native runtime writes the post-prefill
// NPU state to the cache path itself, and this handler only records the
// sidecar once that blob exists. It never accepts pre-made blob bytes from
// the caller — the accelerator is the only writer of cache blobs.
func (s *Server) handleCacheSave(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	var req struct {
		Name   string `json:"name"`
		Prompt string `json:"prompt"`
		Source string `json:"source"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if err := cachestore.ValidateName(req.Name); err != nil {
		writeCacheStoreError(w, err)
		return
	}
	if req.Prompt == "" {
		http.Error(w, "prompt must not be empty", http.StatusBadRequest)
		return
	}

	loaded, err := s.resolveModel(model)
	if err != nil {
		writeOpenAIError(w, err)
		return
	}

	if err := s.cache.EnsureModelDir(loaded.Name); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cachePath := s.cache.Path(loaded.Name, req.Name)

	var result *rkllm.GenerateResult
	err = s.sched.Run(r.Context(), func(ctx context.Context) error {
		res, genErr := loaded.Engine.Generate(ctx, rkllm.GenerateRequest{
			Prompt:       req.Prompt,
			MaxNewTokens: s.cfg.ModelDefaults.MaxNewTokens,
			CachePath:    cachePath,
			SaveCache:    true,
		})
		result = res
		return genErr
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("api: cache save: %s", err), http.StatusInternalServerError)
		return
	}

	if !s.cache.Exists(loaded.Name, req.Name) {
		log.Error().Str("component", "api").Str("kind", "SaveCacheFailed").
			Str("model", loaded.Name).Str("cache", req.Name).
			Msg("save-flagged generate completed but no blob appeared")
		http.Error(w, "accelerator did not produce a cache blob", http.StatusInternalServerError)
		return
	}

	source := req.Source
	if source == "" {
		source = "api"
	}
	promptLen := utf8.RuneCountInString(req.Prompt)
	prefillMs := float64(result.Perf.PrefillTimeMs)
	if err := s.cache.SaveMetadata(loaded.Name, req.Name, promptLen, source, prefillMs, float64(time.Now().Unix())); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sizeBytes := int64(0)
	if st, err := os.Stat(cachePath); err == nil {
		sizeBytes = st.Size()
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"model":           loaded.Name,
		"name":            req.Name,
		"prompt_length":   promptLen,
		"size_mb":         float64(sizeBytes) / 1e6,
		"prefill_time_ms": prefillMs,
	})
}

func (s *Server) handleCacheDelete(w http.ResponseWriter, r *http.Request) {
	model, name := r.PathValue("model"), r.PathValue("name")
	if err := cachestore.ValidateName(name); err != nil {
		writeCacheStoreError(w, err)
		return
	}
	deleted, err := s.cache.Delete(model, name)
	if err != nil {
		writeCacheStoreError(w, err)
		return
	}
	if !deleted {
		http.Error(w, "cache not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeCacheStoreError(w http.ResponseWriter, err error) {
	switch err {
	case cachestore.ErrProtectedName:
		http.Error(w, err.Error(), http.StatusForbidden)
	case cachestore.ErrInvalidName:
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// -------------------------------------------------------------------------
// Remote model catalog
// -------------------------------------------------------------------------

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		http.Error(w, "model catalog is disabled (model_catalog.base_url not set)", http.StatusNotImplemented)
		return
	}
	entries, err := s.catalog.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": entries})
}

// -------------------------------------------------------------------------
// Generation glue
// -------------------------------------------------------------------------

// generate runs one ireq against loaded's engine, inside the batch
// scheduler's concurrency limit, applying the binary prompt-cache lookup
// the request named (if any).
func (s *Server) generate(ctx context.Context, loaded lifecycle.Loaded, ireq normalize.Request) (normalize.Response, error) {
	var resp normalize.Response

	cachePath := ""
	cacheHit := false
	if ireq.UseCache != "" {
		if err := cachestore.ValidateName(ireq.UseCache); err == nil && s.cache.Exists(loaded.Name, ireq.UseCache) {
			cachePath = s.cache.Path(loaded.Name, ireq.UseCache)
			cacheHit = true
		} else {
			log.Warn().Str("component", "api").Str("kind", "CacheMissing").
				Str("cache", ireq.UseCache).Msg("requested cache not found, proceeding without it")
		}
	}

	enableThinking := s.cfg.ModelDefaults.EnableThinking
	if ireq.EnableThinking != nil {
		enableThinking = *ireq.EnableThinking
	}

	err := s.sched.Run(ctx, func(ctx context.Context) error {
		genReq := rkllm.GenerateRequest{
			Prompt:         ireq.Prompt,
			MaxNewTokens:   ireq.MaxTokens,
			StopSequences:  ireq.Stop,
			EnableThinking: enableThinking,
			OnToken:        ireq.OnToken,
			CachePath:      cachePath,
			// SaveCache is intentionally false here: a load-or-none cache
			// lookup is all the chat/completion surfaces support. Saving a
			// cache is a dedicated operation — see handleCacheSave.
		}
		result, genErr := loaded.Engine.Generate(ctx, genReq)
		if genErr != nil {
			return genErr
		}
		resp = normalize.Response{
			Text:           result.Text,
			FinishReason:   result.FinishReason,
			PrefillTokens:  int(result.Perf.PrefillTokens),
			PrefillTimeMs:  float64(result.Perf.PrefillTimeMs),
			GenerateTokens: int(result.Perf.GenerateTokens),
			GenerateTimeMs: float64(result.Perf.GenerateTimeMs),
			MemoryUsageMB:  float64(result.Perf.MemoryUsageMB),
			CacheHit:       cacheHit,
		}
		if cacheHit {
			resp.CacheNames = []string{ireq.UseCache}
		}
		return nil
	})
	if err != nil {
		return normalize.Response{}, fmt.Errorf("api: generate: %w", err)
	}

	tpotMs := float64(0)
	if resp.GenerateTokens > 0 {
		tpotMs = resp.GenerateTimeMs / float64(resp.GenerateTokens)
	}
	s.metrics.RecordTokens(int64(resp.GenerateTokens), resp.PrefillTimeMs, tpotMs)
	return resp, nil
}

// -------------------------------------------------------------------------
// Shared helpers
// -------------------------------------------------------------------------

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func writeOpenAIError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if err == lifecycle.ErrNoModelLoaded {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, normalize.NewOpenAIError(err.Error(), "server_error"))
}

// modelLabel returns the wire-visible model name: the one the caller
// requested, or the resident model's friendly name when the caller didn't
// specify one (auto-resolved to whatever is currently loaded).
func modelLabel(requested string, loaded lifecycle.Loaded) string {
	if requested != "" {
		return requested
	}
	return loaded.Name
}
