package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/batchlu/internal/version"
)

type Server struct {
	service *FactorService
	clock   func() time.Time
}

func NewServer(service *FactorService) *Server {
	return &Server{
		service: service,
		clock:   time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)

	e.POST("/v1/getrf", s.handleGetrf)
	e.GET("/v1/plan", s.handlePlan)
	e.GET("/v1/pools", s.handlePools)
}

func (s *Server) handleHealth(c *echo.Context) error {
	resp := HealthResponse{Status: "ok", Version: version.Resolve().Version}
	if s.service != nil {
		resp.Backend = s.service.Backend()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetrf(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "factor service not configured", "", "")
	}
	req, err := decodeJSON[GetrfRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	res, err := s.service.Factor(c.Request().Context(), req)
	if err != nil {
		return writeFactorError(c, err)
	}
	return c.JSON(http.StatusOK, GetrfResponse{
		ID:          newGetrfID(),
		Object:      "getrf",
		CreatedAt:   s.clock().Unix(),
		Backend:     s.service.Backend(),
		Strategy:    res.Plan.Strategy.String(),
		DType:       res.Plan.DType.String(),
		Dims:        req.Dims,
		Factors:     orEmpty(res.Factors),
		FactorsImag: res.FactorsImag,
		Pivots:      res.Pivots,
		Info:        res.Info,
	})
}

func (s *Server) handlePlan(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "factor service not configured", "", "")
	}
	dims, err := parseDims(c.QueryParam("dims"))
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error(), "dims", "")
	}
	plan, err := s.service.Plan(c.QueryParam("dtype"), dims)
	if err != nil {
		return writeFactorError(c, err)
	}
	return c.JSON(http.StatusOK, PlanResponse{
		Object:    "plan",
		DType:     plan.DType.String(),
		Dims:      dims,
		Batch:     plan.Batch,
		Rows:      plan.Rows,
		Cols:      plan.Cols,
		Strategy:  plan.Strategy.String(),
		Threshold: s.service.Threshold(),
	})
}

func (s *Server) handlePools(c *echo.Context) error {
	if s.service == nil {
		return writeNotFound(c, "no handle pools: factor service not configured")
	}
	return c.JSON(http.StatusOK, PoolsResponse{
		Object: "list",
		Data:   s.service.Pools(),
	})
}
