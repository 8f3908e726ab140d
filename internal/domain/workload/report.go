package workload

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/caseflow/caseflow/internal/domain/assignment"
	"github.com/caseflow/caseflow/internal/domain/directory"
)

// Report is a point-in-time picture of everyone's caseload.
type Report struct {
	GeneratedAt time.Time   `json:"generated_at"`
	Rows        []ReportRow `json:"rows"`
}

// ReportRow is one assignee's line in the workload report.
type ReportRow struct {
	PersonID    string  `json:"person_id"`
	Name        string  `json:"name"`
	Role        string  `json:"role"`
	Status      string  `json:"status"`
	ActiveCases int     `json:"active_cases"`
	Threshold   int     `json:"threshold"`
	Ceiling     int     `json:"ceiling"`
	Utilization float64 `json:"utilization"`
}

// BuildReport assembles the current workload picture for all doctors
// and pharmacists, ordered doctors first then by name within a role.
func BuildReport(ctx context.Context, cases CaseSource, roster Roster) (*Report, error) {
	counts, err := cases.ActiveCounts(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{GeneratedAt: time.Now().UTC()}
	for _, role := range []string{directory.RoleDoctor, directory.RolePharmacist} {
		people, err := roster.ListByRole(ctx, role)
		if err != nil {
			return nil, err
		}
		ceiling := assignment.AssignmentCeiling(role)
		for _, p := range people {
			count := counts[p.ID]
			report.Rows = append(report.Rows, ReportRow{
				PersonID:    p.ID.String(),
				Name:        p.Name,
				Role:        p.Role,
				Status:      p.AvailabilityStatus,
				ActiveCases: count,
				Threshold:   SoftThreshold(role),
				Ceiling:     ceiling,
				Utilization: float64(count) / float64(ceiling),
			})
		}
	}
	return report, nil
}

var reportHeaders = []string{"Name", "Role", "Status", "Active Cases", "Busy Threshold", "Case Ceiling", "Utilization"}

// WriteExcel renders the report as a spreadsheet.
func WriteExcel(report *Report, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Workload"
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	for col, h := range reportHeaders {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}

	for i, row := range report.Rows {
		values := []interface{}{
			row.Name, row.Role, row.Status,
			row.ActiveCases, row.Threshold, row.Ceiling,
			fmt.Sprintf("%.0f%%", row.Utilization*100),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}

	generated, _ := excelize.CoordinatesToCellName(1, len(report.Rows)+3)
	if err := f.SetCellValue(sheet, generated,
		"Generated "+report.GeneratedAt.Format(time.RFC3339)); err != nil {
		return err
	}

	_, err = f.WriteTo(w)
	return err
}
