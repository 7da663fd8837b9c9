package status

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"

	"dexmirror/internal/account"
	"dexmirror/internal/address"
	"dexmirror/internal/pool"
)

// AccountView is the JSON form of one managed account.
type AccountView struct {
	Address     string `json:"address"`
	Kind        string `json:"kind"`
	Initialized bool   `json:"initialized"`
	Slot        uint64 `json:"slot,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
	DataLen     int    `json:"data_len"`
}

// PoolView is the JSON form of one registered pool.
type PoolView struct {
	Address  string        `json:"address"`
	Kind     string        `json:"kind"`
	Accounts []AccountView `json:"accounts"`
}

// NewHandler serves read-only views of the registry:
//
//	GET /healthz
//	GET /pools
//	GET /pools/{address}
func NewHandler(reg *pool.Registry, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{reg: reg, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", h.health)
	r.Get("/pools", h.pools)
	r.Get("/pools/{address}", h.pool)
	return r
}

type handler struct {
	reg    *pool.Registry
	logger *zap.Logger
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "pools": h.reg.Len()})
}

func (h *handler) pools(w http.ResponseWriter, _ *http.Request) {
	handles := h.reg.Handles()
	out := make([]PoolView, 0, len(handles))
	for _, hd := range handles {
		out = append(out, viewOf(hd))
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *handler) pool(w http.ResponseWriter, r *http.Request) {
	addr, err := address.Parse(chi.URLParam(r, "address"))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	hd, ok := h.reg.Get(addr)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "pool not found"})
		return
	}
	h.writeJSON(w, http.StatusOK, viewOf(hd))
}

func (h *handler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("write response", zap.Error(err))
	}
}

func viewOf(h pool.Handle) PoolView {
	accounts := h.Pool().Accounts()
	view := PoolView{
		Address:  h.Address().String(),
		Kind:     h.Kind(),
		Accounts: make([]AccountView, len(accounts)),
	}
	for i, st := range accounts {
		view.Accounts[i] = accountView(st)
	}
	return view
}

func accountView(st account.State) AccountView {
	v := AccountView{Address: st.Address().String(), Kind: st.Kind()}
	raw, ok := st.Raw()
	if !ok {
		return v
	}
	v.Initialized = true
	v.Slot = raw.Slot
	v.UpdatedAt = raw.UpdatedAt.UTC().Format(time.RFC3339Nano)
	v.DataLen = len(raw.Data)
	return v
}
