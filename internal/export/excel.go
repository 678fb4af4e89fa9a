// Package export renders sales, client and product data into downloadable
// spreadsheet and PDF reports.
package export

import (
	"fmt"
	"io"

	"github.com/360EntSecGroup-Skylar/excelize"

	"bizzflow/backend/internal/domain"
)

const defaultSheet = "Sheet1"

func WriteSalesXLSX(w io.Writer, sales []domain.Sale) error {
	xlsx := excelize.NewFile()
	xlsx.SetSheetName(defaultSheet, "Sales")

	headers := []string{"Sale Number", "Date", "Client ID", "Seller ID", "Subtotal", "Discount", "Tax", "Total", "Payment", "Status"}
	for i, h := range headers {
		xlsx.SetCellValue("Sales", cell(i, 0), h)
	}

	for rowIdx, sale := range sales {
		row := rowIdx + 1
		xlsx.SetCellValue("Sales", cell(0, row), sale.SaleNumber)
		xlsx.SetCellValue("Sales", cell(1, row), sale.CreatedAt.UTC().Format("2006-01-02 15:04"))
		xlsx.SetCellValue("Sales", cell(2, row), sale.ClientID)
		xlsx.SetCellValue("Sales", cell(3, row), sale.SellerID)
		xlsx.SetCellValue("Sales", cell(4, row), sale.Subtotal.String())
		xlsx.SetCellValue("Sales", cell(5, row), sale.Discount.String())
		xlsx.SetCellValue("Sales", cell(6, row), sale.Tax.String())
		xlsx.SetCellValue("Sales", cell(7, row), sale.FinalAmount.String())
		xlsx.SetCellValue("Sales", cell(8, row), sale.PaymentMethod)
		xlsx.SetCellValue("Sales", cell(9, row), sale.Status)
	}

	return xlsx.Write(w)
}

func WriteClientsXLSX(w io.Writer, clients []domain.Client) error {
	xlsx := excelize.NewFile()
	xlsx.SetSheetName(defaultSheet, "Clients")

	headers := []string{"Name", "Email", "Phone", "Address", "Category", "Total Spent", "Last Purchase"}
	for i, h := range headers {
		xlsx.SetCellValue("Clients", cell(i, 0), h)
	}

	for rowIdx, client := range clients {
		row := rowIdx + 1
		xlsx.SetCellValue("Clients", cell(0, row), client.Name)
		xlsx.SetCellValue("Clients", cell(1, row), client.Email)
		xlsx.SetCellValue("Clients", cell(2, row), client.Phone)
		xlsx.SetCellValue("Clients", cell(3, row), client.Address)
		xlsx.SetCellValue("Clients", cell(4, row), client.Category)
		xlsx.SetCellValue("Clients", cell(5, row), client.TotalSpent.String())
		if client.LastPurchase != nil {
			xlsx.SetCellValue("Clients", cell(6, row), client.LastPurchase.UTC().Format("2006-01-02"))
		}
	}

	return xlsx.Write(w)
}

func WriteProductsXLSX(w io.Writer, products []domain.Product) error {
	xlsx := excelize.NewFile()
	xlsx.SetSheetName(defaultSheet, "Products")

	headers := []string{"Code", "Name", "Category", "Unit Price", "Stock", "Min Stock", "Active"}
	for i, h := range headers {
		xlsx.SetCellValue("Products", cell(i, 0), h)
	}

	for rowIdx, product := range products {
		row := rowIdx + 1
		xlsx.SetCellValue("Products", cell(0, row), product.Code)
		xlsx.SetCellValue("Products", cell(1, row), product.Name)
		xlsx.SetCellValue("Products", cell(2, row), product.Category)
		xlsx.SetCellValue("Products", cell(3, row), product.UnitPrice.String())
		xlsx.SetCellValue("Products", cell(4, row), product.Stock)
		xlsx.SetCellValue("Products", cell(5, row), product.MinStock)
		xlsx.SetCellValue("Products", cell(6, row), product.Active)
	}

	return xlsx.Write(w)
}

// cell maps zero-based column and row indexes to an A1-style axis.
func cell(col, row int) string {
	name := ""
	col++
	for col > 0 {
		col--
		name = string(rune('A'+col%26)) + name
		col /= 26
	}
	return fmt.Sprintf("%s%d", name, row+1)
}
