// Package relationships serves reverse lookups over the durable relationship graph.
package relationships

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
)

type Graph interface {
	RelationshipsFor(childID string) []models.Edge
	Len() int
	ReferencedChildren() int
}

type EdgeResponse struct {
	ID string `json:"id"`
	models.Edge
}

type ListResponse struct {
	ChildID string         `json:"child_id"`
	Edges   []EdgeResponse `json:"edges"`
}

type StatsResponse struct {
	Edges              int `json:"edges"`
	ReferencedChildren int `json:"referenced_children"`
}

type Handler struct {
	graph Graph
}

func NewHandler(graph Graph) *Handler {
	return &Handler{graph: graph}
}

func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.Stats)
	g.GET("/:childId", h.ForChild)
}

// ForChild lists the edges pointing at a child, optionally narrowed to one locale with ?locale=.
func (h *Handler) ForChild(c echo.Context) error {
	childID := c.Param("childId")
	if childID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "child id is required")
	}
	locale := c.QueryParam("locale")

	resp := ListResponse{ChildID: childID, Edges: []EdgeResponse{}}
	for _, edge := range h.graph.RelationshipsFor(childID) {
		if locale != "" && edge.LocaleCode != "" && edge.LocaleCode != locale {
			continue
		}
		resp.Edges = append(resp.Edges, EdgeResponse{ID: edge.ID(), Edge: edge})
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, StatsResponse{
		Edges:              h.graph.Len(),
		ReferencedChildren: h.graph.ReferencedChildren(),
	})
}
