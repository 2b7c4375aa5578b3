package mssql

import (
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/source"
)

func init() {
	source.Register(source.AdapterRegistration{
		Info: (&Adapter{}).Info(),
		Factory: func(logger *zap.Logger) source.Adapter {
			return NewAdapter(logger)
		},
	})
}
