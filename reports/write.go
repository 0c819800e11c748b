package reports

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// Write stores the snapshot under dir as balances and loans tables in CSV
// and Parquet form. It returns the written paths.
func Write(dir string, snap *Snapshot) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("reports: create dir: %w", err)
	}
	stamp := snap.GeneratedAt.Format("20060102T150405Z")
	base := func(kind, ext string) string {
		return filepath.Join(dir, fmt.Sprintf("%s-%s.%s", kind, stamp, ext))
	}

	var paths []string
	steps := []struct {
		path  string
		write func(string, *Snapshot) error
	}{
		{base("balances", "csv"), writeBalancesCSV},
		{base("balances", "parquet"), writeBalancesParquet},
		{base("loans", "csv"), writeLoansCSV},
		{base("loans", "parquet"), writeLoansParquet},
	}
	for _, step := range steps {
		if err := step.write(step.path, snap); err != nil {
			return paths, err
		}
		paths = append(paths, step.path)
	}
	return paths, nil
}

func writeCSV(path string, header []string, records [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("reports: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("reports: write csv header: %w", err)
	}
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("reports: write csv rows: %w", err)
	}
	return file.Close()
}

func writeBalancesCSV(path string, snap *Snapshot) error {
	records := make([][]string, 0, len(snap.Balances))
	for _, row := range snap.Balances {
		records = append(records, []string{row.Section, row.Token, amountString(row.Amount), snap.GeneratedAt.Format(time.RFC3339)})
	}
	return writeCSV(path, []string{"section", "token", "amount", "generated_at"}, records)
}

func writeLoansCSV(path string, snap *Snapshot) error {
	records := make([][]string, 0, len(snap.Loans))
	for _, row := range snap.Loans {
		records = append(records, []string{
			strconv.FormatUint(row.LoanID, 10),
			row.User,
			row.Status,
			row.CollateralToken,
			amountString(row.CollateralAmount),
			row.BorrowToken,
			amountString(row.BorrowAmount),
			strconv.FormatUint(uint64(row.InterestRateBps), 10),
			time.Unix(row.StartTime, 0).UTC().Format(time.RFC3339),
			time.Unix(row.DueAt, 0).UTC().Format(time.RFC3339),
			amountString(row.AmountPaid),
			amountString(row.Outstanding),
		})
	}
	header := []string{
		"loan_id", "user", "status", "collateral_token", "collateral_amount", "borrow_token", "borrow_amount",
		"interest_rate_bps", "start_time", "due_at", "amount_paid", "outstanding",
	}
	return writeCSV(path, header, records)
}

// Amounts are kept as decimal strings; they do not fit 64-bit columns.
type balanceParquetRow struct {
	Section     string `parquet:"name=section, type=BYTE_ARRAY, convertedtype=UTF8"`
	Token       string `parquet:"name=token, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount      string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	GeneratedAt int64  `parquet:"name=generated_at, type=INT64"`
}

type loanParquetRow struct {
	LoanID           int64  `parquet:"name=loan_id, type=INT64"`
	User             string `parquet:"name=user, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status           string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	CollateralToken  string `parquet:"name=collateral_token, type=BYTE_ARRAY, convertedtype=UTF8"`
	CollateralAmount string `parquet:"name=collateral_amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	BorrowToken      string `parquet:"name=borrow_token, type=BYTE_ARRAY, convertedtype=UTF8"`
	BorrowAmount     string `parquet:"name=borrow_amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	InterestRateBps  int32  `parquet:"name=interest_rate_bps, type=INT32"`
	StartTime        int64  `parquet:"name=start_time, type=INT64"`
	DueAt            int64  `parquet:"name=due_at, type=INT64"`
	AmountPaid       string `parquet:"name=amount_paid, type=BYTE_ARRAY, convertedtype=UTF8"`
	Outstanding      string `parquet:"name=outstanding, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeParquet(path string, schema interface{}, rows []interface{}) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("reports: create parquet: %w", err)
	}
	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(file), schema, 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("reports: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			file.Close()
			return fmt.Errorf("reports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("reports: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("reports: close parquet: %w", err)
	}
	return nil
}

func writeBalancesParquet(path string, snap *Snapshot) error {
	rows := make([]interface{}, 0, len(snap.Balances))
	for _, row := range snap.Balances {
		rows = append(rows, &balanceParquetRow{
			Section:     row.Section,
			Token:       row.Token,
			Amount:      amountString(row.Amount),
			GeneratedAt: snap.GeneratedAt.Unix(),
		})
	}
	return writeParquet(path, new(balanceParquetRow), rows)
}

func writeLoansParquet(path string, snap *Snapshot) error {
	rows := make([]interface{}, 0, len(snap.Loans))
	for _, row := range snap.Loans {
		rows = append(rows, &loanParquetRow{
			LoanID:           int64(row.LoanID),
			User:             row.User,
			Status:           row.Status,
			CollateralToken:  row.CollateralToken,
			CollateralAmount: amountString(row.CollateralAmount),
			BorrowToken:      row.BorrowToken,
			BorrowAmount:     amountString(row.BorrowAmount),
			InterestRateBps:  int32(row.InterestRateBps),
			StartTime:        row.StartTime,
			DueAt:            row.DueAt,
			AmountPaid:       amountString(row.AmountPaid),
			Outstanding:      amountString(row.Outstanding),
		})
	}
	return writeParquet(path, new(loanParquetRow), rows)
}
