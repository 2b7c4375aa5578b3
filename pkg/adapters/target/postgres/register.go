package postgres

import (
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/target"
)

func init() {
	target.Register(target.Registration{
		Name: adapterName,
		Factory: func(logger *zap.Logger) target.Adapter {
			return NewAdapter(logger)
		},
	})
}
