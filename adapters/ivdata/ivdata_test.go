package ivdata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"ivquant/internal/errors"
)

const sampleCSV = `x,y,z1,z2,age
1.5,3.0,0.1,0.2,41
2.5,5.0,0.3,0.4,38
3.5,7.0,0.5,0.6,55
`

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func sampleColumns() Columns {
	return Columns{
		Exposure:    "x",
		Outcome:     "y",
		Instruments: []string{"z1", "z2"},
		Covariates:  []string{"age"},
	}
}

func TestReadCSV(t *testing.T) {
	ds, err := ReadCSV(writeCSV(t, sampleCSV), sampleColumns())
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if ds.Len() != 3 {
		t.Fatalf("expected 3 samples, got %d", ds.Len())
	}
	if ds.NInstruments() != 2 || ds.NCovariates() != 1 {
		t.Errorf("widths: got %d instruments, %d covariates", ds.NInstruments(), ds.NCovariates())
	}
	s := ds.Sample(1)
	if s.X != 2.5 || s.Y != 5.0 || s.Instruments[1] != 0.4 || s.Covariates[0] != 38 {
		t.Errorf("row mapping wrong: %+v", s)
	}
	labels := ds.CovariableLabels()
	if len(labels) != 1 || labels[0] != "age" {
		t.Errorf("covariable labels: %v", labels)
	}
}

func TestReadCSVMissingColumn(t *testing.T) {
	cols := sampleColumns()
	cols.Instruments = []string{"z1", "z9"}
	_, err := ReadCSV(writeCSV(t, sampleCSV), cols)
	if errors.GetCode(err) != errors.CodeInvalidInput {
		t.Errorf("missing columns should be INVALID_INPUT, got %v", err)
	}
}

func TestReadCSVBadNumber(t *testing.T) {
	bad := "x,y\n1.5,apple\n"
	_, err := ReadCSV(writeCSV(t, bad), Columns{Exposure: "x", Outcome: "y"})
	if err == nil {
		t.Error("unparseable cells should be an error, not skipped")
	}
}

func TestReadCSVRequiresHeaderAndRows(t *testing.T) {
	_, err := ReadCSV(writeCSV(t, "x,y\n"), Columns{Exposure: "x", Outcome: "y"})
	if err == nil {
		t.Error("a header-only file should be rejected")
	}
}

func TestColumnsValidate(t *testing.T) {
	if err := (Columns{Outcome: "y"}).Validate(); err == nil {
		t.Error("missing exposure column should be rejected")
	}
	if err := (Columns{Exposure: "x"}).Validate(); err == nil {
		t.Error("missing outcome column should be rejected")
	}
}

func TestReadXLSX(t *testing.T) {
	f := excelize.NewFile()
	rows := [][]interface{}{
		{"x", "y", "z"},
		{1.0, 2.0, 0.5},
		{2.0, 4.0, 1.5},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(t.TempDir(), "data.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()

	ds, err := ReadXLSX(path, "", Columns{Exposure: "x", Outcome: "y", Instruments: []string{"z"}})
	if err != nil {
		t.Fatalf("ReadXLSX: %v", err)
	}
	if ds.Len() != 2 {
		t.Fatalf("expected 2 samples, got %d", ds.Len())
	}
	if s := ds.Sample(1); s.X != 2 || s.Y != 4 || s.Instruments[0] != 1.5 {
		t.Errorf("row mapping wrong: %+v", s)
	}
}

func TestReadDispatchesOnExtension(t *testing.T) {
	if _, err := Read("data.parquet", "", sampleColumns()); err == nil {
		t.Error("unsupported extensions should be rejected")
	}
	ds, err := Read(writeCSV(t, sampleCSV), "", sampleColumns())
	if err != nil || ds.Len() != 3 {
		t.Errorf("csv dispatch failed: %v", err)
	}
}
