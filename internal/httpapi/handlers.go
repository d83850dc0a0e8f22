package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"vestry.org/internal/obs"
	"vestry.org/internal/stream"
	"vestry.org/internal/token"
	"vestry.org/internal/vesting"
)

const serviceName = "vestry-api"

// ReadyProbe is a simple readiness check (e.g. DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the vesting engine.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	vesting vesting.Service
	tokens  token.Ledger
	claims  *stream.Stream

	devTokens  bool
	tokenTTL   time.Duration
	rateBurst  int
	ratePerSec int
	maxBody    int64
}

func New(rp ReadyProbe, version string, svc vesting.Service, tokens token.Ledger, claims *stream.Stream) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		vesting:    svc,
		tokens:     tokens,
		claims:     claims,
		tokenTTL:   time.Hour,
		rateBurst:  20,
		ratePerSec: 10,
		maxBody:    1 << 20,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// vesting operations
	a.mux.HandleFunc("/v1/programs", a.handleProgramsCollection)
	a.mux.HandleFunc("/v1/programs/", a.handleProgramResource)
	a.mux.HandleFunc("/v1/claims", a.handleClaims)
	a.mux.HandleFunc("/v1/stream/claims", a.handleClaimStream)

	// dev-only helpers
	a.mux.HandleFunc("/v1/auth/token", a.handleIssueToken)
	a.mux.HandleFunc("/v1/tokens/mint", a.handleMint)
	a.mux.HandleFunc("/v1/tokens/", a.handleTokenResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// EnableDevTokens switches on the unauthenticated token issuing and mint
// endpoints. Local development only.
func (a *API) EnableDevTokens(ttl time.Duration) {
	a.devTokens = true
	if ttl > 0 {
		a.tokenTTL = ttl
	}
}

// SetRateLimit overrides the per-IP token-bucket applied by Handler.
// Non-positive values keep the current setting. Call before Handler.
func (a *API) SetRateLimit(burst, perSecond int) {
	if burst > 0 {
		a.rateBurst = burst
	}
	if perSecond > 0 {
		a.ratePerSec = perSecond
	}
}

// SetMaxBodyBytes overrides the request body cap applied by Handler.
// Non-positive values keep the current setting. Call before Handler.
func (a *API) SetMaxBodyBytes(n int64) {
	if n > 0 {
		a.maxBody = n
	}
}

// Handler returns the composed handler chain for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, a.maxBody)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
