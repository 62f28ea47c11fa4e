package handler

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"urlscan/internal/model"
	"urlscan/internal/service"
	"urlscan/internal/storage"
	"urlscan/internal/utils"

	"github.com/labstack/echo/v4"
)

const adminTokenHeader = "X-Admin-Token"

var errInvalidJSON = errors.New("invalid json body")

type Handler struct {
	Scanner    *service.Scanner
	Storage    *storage.Storage
	AdminToken string
	Proxy      utils.ProxyConfig
}

func NewHandler(scanner *service.Scanner, store *storage.Storage, adminToken string, proxy utils.ProxyConfig) *Handler {
	return &Handler{
		Scanner:    scanner,
		Storage:    store,
		AdminToken: adminToken,
		Proxy:      proxy,
	}
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

// decodeBody reads a JSON object body. An empty body decodes to an empty object.
func decodeBody(c echo.Context) (map[string]json.RawMessage, error) {
	body := map[string]json.RawMessage{}
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return body, nil
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, errInvalidJSON
	}
	if body == nil {
		body = map[string]json.RawMessage{}
	}
	return body, nil
}

func stringField(body map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := body[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// thresholdField never fails: anything that is not a JSON number yields nil
// and the scanner applies its default.
func thresholdField(body map[string]json.RawMessage) *float64 {
	raw, ok := body["threshold"]
	if !ok {
		return nil
	}
	var t *float64
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil
	}
	return t
}

// === Middleware ===

func (h *Handler) AdminRequired(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.Request().Header.Get(adminTokenHeader)
		if h.AdminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.AdminToken)) != 1 {
			utils.Log.Warn("rejected admin request",
				utils.Field("ip", utils.ClientIP(c, h.Proxy)),
				utils.Field("path", c.Path()),
			)
			return errorJSON(c, http.StatusUnauthorized, "Invalid admin token")
		}
		return next(c)
	}
}

// === Routes ===

func (h *Handler) Health(c echo.Context) error {
	schema := h.Scanner.Assembler.Schema()
	return c.JSON(http.StatusOK, model.HealthResponse{
		Status:        "healthy",
		ModelLoaded:   h.Scanner.ModelLoaded(),
		WhitelistSize: h.Scanner.Whitelist.Size(),
		FeaturesCount: len(schema.Names),
		Features:      schema.Names,
		SchemaVersion: schema.Version,
	})
}

func (h *Handler) CheckURL(c echo.Context) error {
	body, err := decodeBody(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid JSON body")
	}
	url, ok := stringField(body, "url")
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "Missing URL in request")
	}

	res := h.Scanner.Check(c.Request().Context(), url, thresholdField(body))
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) CheckURLs(c echo.Context) error {
	body, err := decodeBody(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid JSON body")
	}
	raw, ok := body["urls"]
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "Missing URLs in request")
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return errorJSON(c, http.StatusBadRequest, "URLs must be a list")
	}
	if len(items) > h.Scanner.MaxBatch {
		return errorJSON(c, http.StatusBadRequest, fmt.Sprintf("Maximum %d URLs per request", h.Scanner.MaxBatch))
	}

	urls := make([]string, len(items))
	for i, item := range items {
		if err := json.Unmarshal(item, &urls[i]); err != nil {
			return errorJSON(c, http.StatusBadRequest, "URLs must be strings")
		}
	}

	res, err := h.Scanner.CheckBatch(c.Request().Context(), urls, thresholdField(body))
	if errors.Is(err, service.ErrBatchTooLarge) {
		return errorJSON(c, http.StatusBadRequest, fmt.Sprintf("Maximum %d URLs per request", h.Scanner.MaxBatch))
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) WhitelistCheck(c echo.Context) error {
	body, err := decodeBody(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid JSON body")
	}
	url, ok := stringField(body, "url")
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "Missing URL in request")
	}
	return c.JSON(http.StatusOK, h.Scanner.WhitelistCheck(url))
}

func (h *Handler) DebugFeatures(c echo.Context) error {
	body, err := decodeBody(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid JSON body")
	}
	url, ok := stringField(body, "url")
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "Missing URL in request")
	}
	return c.JSON(http.StatusOK, h.Scanner.Explain(url))
}

func (h *Handler) History(c echo.Context) error {
	if h.Storage == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "History storage is disabled")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	entries, err := h.Storage.GetScanHistory(c.Request().Context(), limit)
	if err != nil {
		utils.Log.Error("failed to read scan history", utils.Field("error", err.Error()))
		return errorJSON(c, http.StatusInternalServerError, "Failed to read history")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

func (h *Handler) ReloadWhitelist(c echo.Context) error {
	if err := h.Scanner.Whitelist.Reload(); err != nil {
		utils.Log.Error("whitelist reload failed", utils.Field("error", err.Error()))
		return errorJSON(c, http.StatusInternalServerError, "Whitelist reload failed")
	}
	wl := h.Scanner.Whitelist.Get()
	utils.Log.Info("whitelist reloaded", utils.Field("domains", wl.Len()))
	return c.JSON(http.StatusOK, model.WhitelistReload{
		WhitelistSize: wl.Len(),
		LoadedAt:      wl.LoadedAt,
	})
}
