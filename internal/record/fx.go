package record

import (
	"github.com/smallbiznis/energyledger/internal/record/repository"
	"github.com/smallbiznis/energyledger/internal/record/service"
	"go.uber.org/fx"
)

var Module = fx.Module("record.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
