//go:build wireinject

package app

import (
	"github.com/google/wire"
	"github.com/gowvp/argus/internal/conf"
	"github.com/gowvp/argus/internal/web/api"
)

func wireApp(bc *conf.Bootstrap) (*App, func(), error) {
	panic(wire.Build(api.ProviderSet, wire.Struct(new(App), "*")))
}
