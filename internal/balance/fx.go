package balance

import (
	"github.com/smallbiznis/pressledger/internal/balance/repository"
	"github.com/smallbiznis/pressledger/internal/balance/service"
	"go.uber.org/fx"
)

var Module = fx.Module("balance.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
