package bulkimport

import (
	"github.com/smallbiznis/einvois/internal/bulkimport/service"
	"go.uber.org/fx"
)

var Module = fx.Module("bulkimport.service",
	fx.Provide(service.NewService),
)
