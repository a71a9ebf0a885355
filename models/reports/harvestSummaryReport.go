package reports

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/agrinova/fieldops-backend/config"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

type HarvestSummaryRow struct {
	EstateName   *string         `json:"estate_name"`
	DivisionName *string         `json:"division_name"`
	BlockName    *string         `json:"block_name"`
	HarvestDate  time.Time       `json:"harvest_date"`
	RecordCount  int             `json:"record_count"`
	BunchCount   int             `json:"bunch_count"`
	WeightKg     decimal.Decimal `json:"weight_kg"`
	LooseFruitKg decimal.Decimal `json:"loose_fruit_kg"`
}

func getHarvestSummaryReport(ctx context.Context, companyId string, from, to time.Time) ([]*HarvestSummaryRow, error) {

	sql := `
SELECT
    estates.name AS estate_name,
    divisions.name AS division_name,
    blocks.name AS block_name,
    s.harvest_date,
    s.record_count,
    s.bunch_count,
    s.weight_kg,
    s.loose_fruit_kg
FROM
    harvest_daily_summaries AS s
    LEFT JOIN estates ON estates.id = s.estate_id
    LEFT JOIN divisions ON divisions.id = s.division_id
    LEFT JOIN blocks ON blocks.id = s.block_id
WHERE
    s.company_id = ?
    AND s.harvest_date >= ?
    AND s.harvest_date <= ?
ORDER BY
    s.harvest_date, estate_name, division_name, block_name;
`

	var rows []*HarvestSummaryRow
	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(sql, companyId, from, to).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// HarvestSummaryExcelHandler streams the per-block daily harvest summary as
// an xlsx download. Date range defaults to the last 30 days.
func HarvestSummaryExcelHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyId := c.Query("companyId")
		if companyId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "companyId is required"})
			return
		}

		to := time.Now().UTC()
		from := to.AddDate(0, 0, -30)
		if raw := c.Query("from"); raw != "" {
			parsed, err := time.Parse("2006-01-02", raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "from must be YYYY-MM-DD"})
				return
			}
			from = parsed
		}
		if raw := c.Query("to"); raw != "" {
			parsed, err := time.Parse("2006-01-02", raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "to must be YYYY-MM-DD"})
				return
			}
			to = parsed
		}

		data, err := getHarvestSummaryReport(c.Request.Context(), companyId, from, to)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		f := excelize.NewFile()
		sheetName := "Sheet1"
		if _, err := f.NewSheet(sheetName); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		// Add headers
		f.SetCellValue(sheetName, "A1", "Estate")
		f.SetCellValue(sheetName, "B1", "Division")
		f.SetCellValue(sheetName, "C1", "Block")
		f.SetCellValue(sheetName, "D1", "HarvestDate")
		f.SetCellValue(sheetName, "E1", "Records")
		f.SetCellValue(sheetName, "F1", "Bunches")
		f.SetCellValue(sheetName, "G1", "WeightKg")
		f.SetCellValue(sheetName, "H1", "LooseFruitKg")

		// Add data
		for i, d := range data {
			row := fmt.Sprint(i + 2)
			f.SetCellValue(sheetName, "A"+row, deref(d.EstateName))
			f.SetCellValue(sheetName, "B"+row, deref(d.DivisionName))
			f.SetCellValue(sheetName, "C"+row, deref(d.BlockName))
			f.SetCellValue(sheetName, "D"+row, d.HarvestDate.Format("2006-01-02"))
			f.SetCellValue(sheetName, "E"+row, d.RecordCount)
			f.SetCellValue(sheetName, "F"+row, d.BunchCount)
			f.SetCellValue(sheetName, "G"+row, d.WeightKg.InexactFloat64())
			f.SetCellValue(sheetName, "H"+row, d.LooseFruitKg.InexactFloat64())
		}

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=harvest-summary.xlsx")
		if err := f.Write(c.Writer); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to write file"})
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
