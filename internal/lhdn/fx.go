package lhdn

import (
	"github.com/smallbiznis/einvois/internal/lhdn/myinvois"
	"github.com/smallbiznis/einvois/internal/lhdn/service"
	"go.uber.org/fx"
)

var Module = fx.Module("lhdn.service",
	fx.Provide(myinvois.NewClient),
	fx.Provide(service.NewService),
)
