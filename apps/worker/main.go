package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/einvois/internal/audit"
	"github.com/smallbiznis/einvois/internal/bulkimport"
	"github.com/smallbiznis/einvois/internal/business"
	"github.com/smallbiznis/einvois/internal/clock"
	"github.com/smallbiznis/einvois/internal/config"
	"github.com/smallbiznis/einvois/internal/crypto"
	"github.com/smallbiznis/einvois/internal/events"
	"github.com/smallbiznis/einvois/internal/extraction"
	"github.com/smallbiznis/einvois/internal/invoice"
	"github.com/smallbiznis/einvois/internal/lhdn"
	"github.com/smallbiznis/einvois/internal/observability"
	"github.com/smallbiznis/einvois/internal/pipeline/tasks"
	"github.com/smallbiznis/einvois/internal/pipeline/worker"
	"github.com/smallbiznis/einvois/internal/storage"
	"github.com/smallbiznis/einvois/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		crypto.Module,
		storage.Module,
		events.Module,

		// Domain services the handlers drive.
		audit.Module,
		business.Module,
		invoice.Module,
		extraction.Module,
		lhdn.Module,
		bulkimport.Module,
		tasks.Module,

		// No server module, just the queue consumer.
		worker.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
