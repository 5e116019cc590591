//go:build !giouring
// +build !giouring

package backend

import (
	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/interfaces"
)

// NewURing is available when built with -tags giouring
func NewURing(path string, size int64) (interfaces.Backend, error) {
	return nil, errs.New("NewURing", errs.CodeUnsupported, "giouring not enabled; build with -tags giouring")
}
