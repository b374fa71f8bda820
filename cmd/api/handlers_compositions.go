package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/composer/internal/composition"
	"github.com/therealutkarshpriyadarshi/composer/internal/metrics"
	"github.com/therealutkarshpriyadarshi/composer/pkg/models"
)

type compositionResponse struct {
	ID               string               `json:"id"`
	Settings         composition.Settings `json:"settings"`
	Overlays         []models.Overlay     `json:"overlays"`
	DurationInFrames int                  `json:"durationInFrames"`
	Rows             int                  `json:"rows"`
	CreatedAt        time.Time            `json:"createdAt"`
}

func newCompositionResponse(s *composition.Session) compositionResponse {
	return compositionResponse{
		ID:               s.ID,
		Settings:         s.Settings,
		Overlays:         s.Overlays.Overlays(),
		DurationInFrames: s.Overlays.DurationInFrames(),
		Rows:             s.Overlays.Rows(),
		CreatedAt:        s.CreatedAt,
	}
}

// createComposition opens an editing session
// POST /api/v1/compositions
func (api *API) createComposition(c *gin.Context) {
	var settings composition.Settings
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &settings); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid settings: %v", err)})
			return
		}
	}

	session := api.sessions.Create(settings)
	metrics.UpdateCompositions(api.sessions.Len())
	api.logger.WithCompositionID(session.ID).Info("Composition created")

	c.JSON(http.StatusCreated, newCompositionResponse(session))
}

// getComposition returns a session with its overlays
// GET /api/v1/compositions/:id
func (api *API) getComposition(c *gin.Context) {
	session, err := api.sessions.Get(c.Param("id"))
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, newCompositionResponse(session))
}

// deleteComposition closes a session and drops its keyframe cache
// DELETE /api/v1/compositions/:id
func (api *API) deleteComposition(c *gin.Context) {
	id := c.Param("id")
	if err := api.sessions.Close(c.Request.Context(), id); err != nil {
		api.respondError(c, err)
		return
	}
	metrics.UpdateCompositions(api.sessions.Len())
	api.logger.WithCompositionID(id).Info("Composition closed")

	c.Status(http.StatusNoContent)
}

// listOverlays returns the overlays ordered by row and start frame
// GET /api/v1/compositions/:id/overlays
func (api *API) listOverlays(c *gin.Context) {
	session, err := api.sessions.Get(c.Param("id"))
	if err != nil {
		api.respondError(c, err)
		return
	}

	overlays := session.Overlays.Overlays()
	c.JSON(http.StatusOK, gin.H{
		"overlays": overlays,
		"count":    len(overlays),
	})
}

// addOverlayRequest is an overlay plus placement hints. Row and From shadow
// the embedded fields so omitted values can be told apart from zero.
type addOverlayRequest struct {
	models.Overlay
	Row           *int  `json:"row"`
	From          *int  `json:"from"`
	AutoPlace     *bool `json:"autoPlace"`
	AvailableRows int   `json:"availableRows"`
}

// addOverlay stores a new overlay. It is auto-placed when autoPlace is true
// or when both row and from are omitted.
// POST /api/v1/compositions/:id/overlays
func (api *API) addOverlay(c *gin.Context) {
	session, err := api.sessions.Get(c.Param("id"))
	if err != nil {
		api.respondError(c, err)
		return
	}

	var req addOverlayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid overlay: %v", err)})
		return
	}

	overlay := req.Overlay
	if req.Row != nil {
		overlay.Row = *req.Row
	}
	if req.From != nil {
		overlay.From = *req.From
	}
	autoPlace := req.Row == nil && req.From == nil
	if req.AutoPlace != nil {
		autoPlace = *req.AutoPlace
	}

	var stored models.Overlay
	if autoPlace {
		stored, err = session.Overlays.Place(api.placer, req.AvailableRows, overlay)
		if err == nil {
			metrics.RecordPlacement(stored.Row)
		}
	} else {
		stored, err = session.Overlays.AddOverlay(overlay)
	}
	metrics.RecordOverlayOperation("add", err)
	if err != nil {
		api.respondError(c, err)
		return
	}

	api.logger.WithCompositionID(session.ID).WithOverlayID(stored.ID).Debugf("Overlay added at row %d frame %d", stored.Row, stored.From)
	c.JSON(http.StatusCreated, stored)
}

// changeOverlay merges a partial overlay into an existing one
// PATCH /api/v1/compositions/:id/overlays/:overlayId
func (api *API) changeOverlay(c *gin.Context) {
	session, overlayID, ok := api.sessionAndOverlay(c)
	if !ok {
		return
	}

	patch, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := session.Overlays.ChangeOverlay(overlayID, patch)
	metrics.RecordOverlayOperation("change", err)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

// removeOverlay deletes an overlay and its cached keyframes
// DELETE /api/v1/compositions/:id/overlays/:overlayId
func (api *API) removeOverlay(c *gin.Context) {
	session, overlayID, ok := api.sessionAndOverlay(c)
	if !ok {
		return
	}

	err := session.Overlays.RemoveOverlay(overlayID)
	metrics.RecordOverlayOperation("remove", err)
	if err != nil {
		api.respondError(c, err)
		return
	}

	if err := session.Keyframes.Delete(c.Request.Context(), strconv.Itoa(overlayID)); err != nil {
		api.logger.WithCompositionID(session.ID).WithOverlayID(overlayID).WithError(err).Warn("Failed to drop cached keyframes")
	}

	c.Status(http.StatusNoContent)
}

// findPlacement proposes a slot without adding anything
// POST /api/v1/compositions/:id/placement
func (api *API) findPlacement(c *gin.Context) {
	session, err := api.sessions.Get(c.Param("id"))
	if err != nil {
		api.respondError(c, err)
		return
	}

	var req struct {
		DurationInFrames int `json:"durationInFrames" binding:"required"`
		AvailableRows    int `json:"availableRows"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rows := req.AvailableRows
	if rows <= 0 {
		rows = session.Overlays.Rows()
	}

	pos, err := api.placer.FindNextAvailablePosition(session.Overlays.Overlays(), rows, req.DurationInFrames)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, pos)
}

// sessionAndOverlay resolves the :id and :overlayId path parameters,
// writing the error response itself when it returns false
func (api *API) sessionAndOverlay(c *gin.Context) (*composition.Session, int, bool) {
	overlayID, err := strconv.Atoi(c.Param("overlayId"))
	if err != nil || overlayID <= 0 {
		api.respondError(c, errInvalidOverlay)
		return nil, 0, false
	}

	session, err := api.sessions.Get(c.Param("id"))
	if err != nil {
		api.respondError(c, err)
		return nil, 0, false
	}
	return session, overlayID, true
}
