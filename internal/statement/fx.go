package statement

import (
	"github.com/smallbiznis/pressledger/internal/statement/repository"
	"github.com/smallbiznis/pressledger/internal/statement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("statement.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
