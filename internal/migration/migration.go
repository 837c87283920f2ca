// Package migration creates the schema on startup so the service is usable
// out of the box on any configured dialect.
package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/einvois/internal/audit/domain"
	bulkdomain "github.com/smallbiznis/einvois/internal/bulkimport/domain"
	businessdomain "github.com/smallbiznis/einvois/internal/business/domain"
	documentdomain "github.com/smallbiznis/einvois/internal/document/domain"
	invoicedomain "github.com/smallbiznis/einvois/internal/invoice/domain"
	lhdndomain "github.com/smallbiznis/einvois/internal/lhdn/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(Run),
)

func Run(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&businessdomain.Business{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&documentdomain.OcrDocument{},
		&lhdndomain.LhdnSubmission{},
		&lhdndomain.LhdnToken{},
		&bulkdomain.BulkImport{},
		&bulkdomain.BulkImportInvoice{},
		&auditdomain.AuditLog{},
	)
}
