// Package ingest parses consumption CSV uploads into profiles.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gridwatch/kestrel/internal/domain"
)

// labelColumn is the optional ground-truth column name.
const labelColumn = "true_theft_label"

// ParseCSV reads a consumption CSV into profiles. The expected layout
// is one row per consumer: an identifier column, hourly kWh readings,
// and optionally a trailing true_theft_label column. Non-numeric
// readings are coerced to 0 so a stray blank cell does not reject the
// whole upload.
func ParseCSV(r io.Reader, tenantID string) ([]*domain.ConsumptionProfile, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty CSV file")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	idCol := identifierColumn(header)
	labelCol := -1
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), labelColumn) {
			labelCol = i
		}
	}

	now := time.Now().UTC()
	var profiles []*domain.ConsumptionProfile

	for lineNo := 2; ; lineNo++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", lineNo, err)
		}
		if len(record) == 0 {
			continue
		}

		profile := &domain.ConsumptionProfile{
			ID:        uuid.New().String(),
			TenantID:  tenantID,
			Timestamp: now,
			CreatedAt: now,
		}

		readings := make([]float64, 0, len(record))
		for i, cell := range record {
			switch i {
			case idCol:
				profile.ConsumerID = strings.TrimSpace(cell)
			case labelCol:
				if label, err := strconv.Atoi(strings.TrimSpace(cell)); err == nil {
					profile.TrueLabel = &label
				}
			default:
				val, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
				if err != nil {
					val = 0
				}
				readings = append(readings, val)
			}
		}

		if profile.ConsumerID == "" {
			profile.ConsumerID = fmt.Sprintf("consumer-%d", lineNo-1)
		}
		profile.Readings = readings
		profiles = append(profiles, profile)
	}

	if len(profiles) == 0 {
		return nil, fmt.Errorf("CSV contains no consumer rows")
	}

	return profiles, nil
}

// identifierColumn picks the consumer identifier column from the
// header. The first column wins unless another one is explicitly
// named as an identifier.
func identifierColumn(header []string) int {
	for i, col := range header {
		name := strings.ToLower(strings.TrimSpace(col))
		if name == "id" || strings.Contains(name, "consumer") || strings.Contains(name, "meter") {
			return i
		}
	}
	return 0
}
