package handler

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/account-service/internal/isolation"
	"github.com/iliyamo/account-service/internal/model"
	"github.com/iliyamo/account-service/internal/service"
)

// Accounts is the slice of the accounts manager the admin surface uses.
type Accounts interface {
	Get(ctx context.Context, number string) (model.Account, bool, error)
	Count(ctx context.Context) (int64, error)
	Page(ctx context.Context, offset, limit int) ([]model.Account, error)
	All(ctx context.Context) iter.Seq2[model.Account, error]
	RebuildDirectory(ctx context.Context, batch int) (service.RebuildStats, error)
}

// AdminHandler serves account inspection and directory maintenance.
type AdminHandler struct {
	Accounts     Accounts
	RebuildBatch int
	Log          *zap.Logger
}

func NewAdminHandler(a Accounts, rebuildBatch int, log *zap.Logger) *AdminHandler {
	return &AdminHandler{Accounts: a, RebuildBatch: rebuildBatch, Log: log}
}

const maxPageLimit = 500

type accountResp struct {
	Number  string        `json:"number"`
	Active  bool          `json:"active"`
	Account model.Account `json:"account"`
}

func toResp(a model.Account) accountResp {
	return accountResp{Number: a.Number, Active: a.IsActive(), Account: a}
}

// dependencyStatus maps manager errors to HTTP statuses.
func dependencyStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrDirectorySync):
		return http.StatusBadGateway
	case errors.Is(err, isolation.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *AdminHandler) fail(c echo.Context, op string, err error) error {
	h.Log.Error("admin request failed", zap.String("op", op), zap.Error(err))
	return c.JSON(dependencyStatus(err), echo.Map{"error": op + " failed"})
}

// Count: GET /v1/admin/accounts/count
func (h *AdminHandler) Count(c echo.Context) error {
	n, err := h.Accounts.Count(c.Request().Context())
	if err != nil {
		return h.fail(c, "count", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"count": n})
}

// Get: GET /v1/admin/accounts/:number
func (h *AdminHandler) Get(c echo.Context) error {
	number := c.Param("number")
	if number == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "number required"})
	}
	a, ok, err := h.Accounts.Get(c.Request().Context(), number)
	if err != nil {
		return h.fail(c, "get", err)
	}
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "account not found"})
	}
	return c.JSON(http.StatusOK, toResp(a))
}

// List: GET /v1/admin/accounts?offset=&limit=
func (h *AdminHandler) List(c echo.Context) error {
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid offset"})
	}
	limit, err := queryInt(c, "limit", 100)
	if err != nil || limit <= 0 || limit > maxPageLimit {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
	}
	accs, err := h.Accounts.Page(c.Request().Context(), offset, limit)
	if err != nil {
		return h.fail(c, "list", err)
	}
	out := make([]accountResp, 0, len(accs))
	for _, a := range accs {
		out = append(out, toResp(a))
	}
	return c.JSON(http.StatusOK, echo.Map{"offset": offset, "limit": limit, "accounts": out})
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// Export: GET /v1/admin/accounts/export streams every account as NDJSON.
// Once the first line is written the status is fixed, so a later store
// failure only ends the stream early.
func (h *AdminHandler) Export(c echo.Context) error {
	res := c.Response()
	started := false
	enc := json.NewEncoder(res)
	for a, err := range h.Accounts.All(c.Request().Context()) {
		if err != nil {
			if !started {
				return h.fail(c, "export", err)
			}
			h.Log.Error("account export interrupted", zap.Error(err))
			return nil
		}
		if !started {
			res.Header().Set(echo.HeaderContentType, "application/x-ndjson")
			res.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(toResp(a)); err != nil {
			return err
		}
		res.Flush()
	}
	if !started {
		res.Header().Set(echo.HeaderContentType, "application/x-ndjson")
		res.WriteHeader(http.StatusOK)
	}
	return nil
}

// RebuildDirectory: POST /v1/admin/directory/rebuild
func (h *AdminHandler) RebuildDirectory(c echo.Context) error {
	batch, err := queryInt(c, "batch", h.RebuildBatch)
	if err != nil || batch < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid batch"})
	}
	start := time.Now()
	stats, err := h.Accounts.RebuildDirectory(c.Request().Context(), batch)
	if err != nil {
		h.Log.Error("directory rebuild failed", zap.Error(err), zap.Int("scanned", stats.Scanned))
		return c.JSON(dependencyStatus(err), echo.Map{"error": "rebuild failed", "stats": stats})
	}
	return c.JSON(http.StatusOK, echo.Map{"stats": stats, "took": time.Since(start).String()})
}
