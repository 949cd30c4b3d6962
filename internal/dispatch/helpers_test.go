package dispatch

import (
	"github.com/rs/zerolog"

	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
)

func loggerForTest() *infra.Logger {
	l := zerolog.Nop()
	return &l
}
