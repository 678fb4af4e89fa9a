package export

import (
	"fmt"
	"io"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"bizzflow/backend/internal/domain"
)

// WriteSalesPDF renders a sales report with a summary block and one table
// row per sale.
func WriteSalesPDF(w io.Writer, title string, sales []domain.Sale, stats domain.SaleStats) error {
	cfg := config.NewBuilder().
		WithPageNumber().
		WithLeftMargin(10).
		WithRightMargin(10).
		WithTopMargin(10).
		Build()

	m := maroto.New(cfg)

	m.AddRows(
		row.New(12).Add(
			text.NewCol(12, title, props.Text{Size: 15, Style: fontstyle.Bold, Align: align.Center}),
		),
		row.New(6).Add(
			text.NewCol(12, "Generated "+time.Now().UTC().Format("2006-01-02 15:04 MST"), props.Text{Size: 8, Align: align.Center}),
		),
		row.New(8),
		row.New(7).Add(
			text.NewCol(4, fmt.Sprintf("Sales: %d", stats.Count), props.Text{Size: 10, Style: fontstyle.Bold}),
			text.NewCol(4, "Revenue: "+stats.Revenue.StringFixed(2), props.Text{Size: 10, Style: fontstyle.Bold}),
			text.NewCol(4, "Average: "+stats.Average.StringFixed(2), props.Text{Size: 10, Style: fontstyle.Bold}),
		),
		row.New(5),
	)

	m.AddRows(row.New(7).Add(
		text.NewCol(3, "Sale Number", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(3, "Date", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(2, "Payment", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(2, "Items", props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
		text.NewCol(2, "Total", props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
	))

	for _, sale := range sales {
		m.AddRows(row.New(6).Add(
			text.NewCol(3, sale.SaleNumber, props.Text{Size: 8}),
			text.NewCol(3, sale.CreatedAt.UTC().Format("2006-01-02 15:04"), props.Text{Size: 8}),
			text.NewCol(2, sale.PaymentMethod, props.Text{Size: 8}),
			text.NewCol(2, fmt.Sprintf("%d", len(sale.Items)), props.Text{Size: 8, Align: align.Right}),
			text.NewCol(2, sale.FinalAmount.StringFixed(2), props.Text{Size: 8, Align: align.Right}),
		))
	}

	if len(sales) == 0 {
		m.AddRows(row.New(8).Add(
			text.NewCol(12, "No sales in the selected window.", props.Text{Size: 9, Align: align.Center}),
		))
	}

	doc, err := m.Generate()
	if err != nil {
		return err
	}
	_, err = w.Write(doc.GetBytes())
	return err
}
