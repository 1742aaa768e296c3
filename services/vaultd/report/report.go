package report

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"optionsvault/services/vaultd/indexer"
)

// Files lists the report files written for a round.
type Files struct {
	CSV     string `json:"csv"`
	Parquet string `json:"parquet"`
}

// Writer exports closed rounds as CSV and Parquet files.
type Writer struct {
	dir    string
	logger *slog.Logger
}

// NewWriter returns a writer storing reports under dir.
func NewWriter(dir string, logger *slog.Logger) (*Writer, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("report: directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{dir: dir, logger: logger}, nil
}

// Row is one event of a round with the round totals repeated.
type Row struct {
	Round           uint64
	Sequence        uint64
	Type            string
	Account         string
	Amount          string
	Shares          string
	Fee             string
	EmittedAt       time.Time
	TotalAsset      string
	TotalShares     string
	Profit          string
	Loss            string
	PerformanceFee  string
	WithdrawReserve string
}

// Rows flattens the events of round into report rows.
func Rows(round indexer.Round, events []indexer.Event) []Row {
	rows := make([]Row, 0, len(events))
	for _, evt := range events {
		attrs := evt.Attrs()
		rows = append(rows, Row{
			Round:           round.Round,
			Sequence:        evt.Sequence,
			Type:            evt.Type,
			Account:         evt.Account,
			Amount:          attrs["amount"],
			Shares:          attrs["shares"],
			Fee:             attrs["fee"],
			EmittedAt:       evt.EmittedAt,
			TotalAsset:      round.TotalAsset,
			TotalShares:     round.TotalShares,
			Profit:          round.Profit,
			Loss:            round.Loss,
			PerformanceFee:  round.PerformanceFee,
			WithdrawReserve: round.WithdrawReserve,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].EmittedAt.Equal(rows[j].EmittedAt) {
			return rows[i].EmittedAt.Before(rows[j].EmittedAt)
		}
		return rows[i].Sequence < rows[j].Sequence
	})
	return rows
}

// WriteRound writes round_<n>.csv and round_<n>.parquet.
func (w *Writer) WriteRound(round indexer.Round, events []indexer.Event) (Files, error) {
	rows := Rows(round, events)
	base := filepath.Join(w.dir, fmt.Sprintf("round_%06d", round.Round))
	files := Files{CSV: base + ".csv", Parquet: base + ".parquet"}
	if err := writeCSV(files.CSV, rows); err != nil {
		return Files{}, err
	}
	if err := writeParquet(files.Parquet, rows); err != nil {
		return Files{}, err
	}
	w.logger.Info("round report written",
		slog.Uint64("round", round.Round),
		slog.Int("rows", len(rows)),
		slog.String("csv", files.CSV),
		slog.String("parquet", files.Parquet))
	return files, nil
}

var csvHeader = []string{
	"round", "sequence", "type", "account", "amount", "shares", "fee", "emitted_at",
	"total_asset", "total_shares", "profit", "loss", "performance_fee", "withdraw_reserve",
}

func writeCSV(path string, rows []Row) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create csv: %w", err)
	}
	defer file.Close()
	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("report: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			strconv.FormatUint(row.Round, 10),
			strconv.FormatUint(row.Sequence, 10),
			row.Type,
			row.Account,
			row.Amount,
			row.Shares,
			row.Fee,
			row.EmittedAt.UTC().Format(time.RFC3339),
			row.TotalAsset,
			row.TotalShares,
			row.Profit,
			row.Loss,
			row.PerformanceFee,
			row.WithdrawReserve,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("report: write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("report: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	Round           int64  `parquet:"name=round, type=INT64"`
	Sequence        int64  `parquet:"name=sequence, type=INT64"`
	Type            string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Account         string `parquet:"name=account, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount          string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Shares          string `parquet:"name=shares, type=BYTE_ARRAY, convertedtype=UTF8"`
	Fee             string `parquet:"name=fee, type=BYTE_ARRAY, convertedtype=UTF8"`
	EmittedAt       int64  `parquet:"name=emitted_at, type=INT64"`
	TotalAsset      string `parquet:"name=total_asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalShares     string `parquet:"name=total_shares, type=BYTE_ARRAY, convertedtype=UTF8"`
	Profit          string `parquet:"name=profit, type=BYTE_ARRAY, convertedtype=UTF8"`
	Loss            string `parquet:"name=loss, type=BYTE_ARRAY, convertedtype=UTF8"`
	PerformanceFee  string `parquet:"name=performance_fee, type=BYTE_ARRAY, convertedtype=UTF8"`
	WithdrawReserve string `parquet:"name=withdraw_reserve, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeParquet(path string, rows []Row) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("report: parquet schema: %w", err)
	}
	pw.RowGroupSize = 16 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			Round:           int64(row.Round),
			Sequence:        int64(row.Sequence),
			Type:            row.Type,
			Account:         row.Account,
			Amount:          row.Amount,
			Shares:          row.Shares,
			Fee:             row.Fee,
			EmittedAt:       row.EmittedAt.Unix(),
			TotalAsset:      row.TotalAsset,
			TotalShares:     row.TotalShares,
			Profit:          row.Profit,
			Loss:            row.Loss,
			PerformanceFee:  row.PerformanceFee,
			WithdrawReserve: row.WithdrawReserve,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("report: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("report: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("report: close parquet file: %w", err)
	}
	return nil
}
