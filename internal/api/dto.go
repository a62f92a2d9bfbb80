package api

import "github.com/samcharles93/batchlu/internal/solver"

// GetrfRequest carries a batch of column-major matrices. Complex inputs put
// real parts in Data and imaginary parts in DataImag; DataImag may be
// omitted for a purely real complex input.
type GetrfRequest struct {
	DType    string    `json:"dtype"`
	Dims     []int64   `json:"dims"`
	Data     []float64 `json:"data"`
	DataImag []float64 `json:"data_imag,omitempty"`
}

type GetrfResponse struct {
	ID          string    `json:"id"`
	Object      string    `json:"object"`
	CreatedAt   int64     `json:"created_at"`
	Backend     string    `json:"backend"`
	Strategy    string    `json:"strategy"`
	DType       string    `json:"dtype"`
	Dims        []int64   `json:"dims"`
	Factors     []float64 `json:"factors"`
	FactorsImag []float64 `json:"factors_imag,omitempty"`
	Pivots      []int32   `json:"pivots"`
	Info        []int32   `json:"info"`
}

type PlanResponse struct {
	Object    string  `json:"object"`
	DType     string  `json:"dtype"`
	Dims      []int64 `json:"dims"`
	Batch     int64   `json:"batch"`
	Rows      int64   `json:"rows"`
	Cols      int64   `json:"cols"`
	Strategy  string  `json:"strategy"`
	Threshold int64   `json:"threshold"`
}

type PoolsResponse struct {
	Object string             `json:"object"`
	Data   []solver.PoolStats `json:"data"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
	Version string `json:"version"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
