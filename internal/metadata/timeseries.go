package metadata

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/hydroshare/hsextract/internal/storage"
	"github.com/hydroshare/hsextract/pkg/types"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var timeSeriesKeys = []string{"timeSeriesResults", "rowCount", "sites", "spatialCoverage", "temporalCoverage"}

type timeSeriesObject struct {
	fileObject
}

func (t *timeSeriesObject) ContentType() types.ContentType { return types.ContentTypeTimeSeries }
func (t *timeSeriesObject) ExtractedKeys() []string { return timeSeriesKeys }

func matchTimeSeries(ctx context.Context, e *env, store storage.Store, p storage.Path, fileUpdated bool) (Object, error) {
	if !contentsOnly(p) {
		return nil, nil
	}
	switch ext(p.Rel) {
	case ".csv", ".sqlite":
		return &timeSeriesObject{fileObject{newBase(e, p, fileUpdated)}}, nil
	}
	return nil, nil
}

func (t *timeSeriesObject) ExtractMetadata(ctx context.Context) (map[string]any, error) {
	var (
		out map[string]any
		err error
	)
	if ext(t.path.Rel) == ".sqlite" {
		out, err = t.extractSQLite(ctx)
	} else {
		out, err = t.extractCSV(ctx)
	}
	if err != nil {
		return nil, extractionError(types.ContentTypeTimeSeries, t.FilePath(), err)
	}
	return out, nil
}

// extractCSV reads a header row whose first column is the timestamp and
// whose other columns are series.
func (t *timeSeriesObject) extractCSV(ctx context.Context) (map[string]any, error) {
	data, err := t.get(ctx)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, errors.New("csv file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("invalid csv header: %w", err)
	}
	if len(header) < 2 {
		return nil, errors.New("csv needs a time column and at least one series column")
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	counts := make([]int, len(header)-1)
	var (
		span period
		rows int
	)
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid csv row %d: %w", rows+2, err)
		}
		rows++
		if ts, ok := parseTime(strings.TrimSpace(record[0])); ok {
			span.add(ts)
		}
		for i, cell := range record[1:] {
			if _, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err == nil {
				counts[i]++
			}
		}
	}

	series := make([]map[string]any, 0, len(counts))
	for i, n := range counts {
		series = append(series, map[string]any{
			"name":       strings.TrimSpace(header[i+1]),
			"column":     i + 1,
			"valueCount": n,
		})
	}
	out := map[string]any{
		"timeSeriesResults": series,
		"rowCount":          rows,
	}
	if !span.empty() {
		out["temporalCoverage"] = span.coverage()
	}
	return out, nil
}

type odmSite struct {
	Code      string   `gorm:"column:code"`
	Name      string   `gorm:"column:name"`
	Latitude  *float64 `gorm:"column:latitude"`
	Longitude *float64 `gorm:"column:longitude"`
}

type odmSeries struct {
	ResultID     int64  `gorm:"column:result_id"`
	ResultUUID   string `gorm:"column:result_uuid"`
	VariableCode string `gorm:"column:variable_code"`
	VariableName string `gorm:"column:variable_name"`
	UnitsName    string `gorm:"column:units_name"`
	UnitsAbbrev  string `gorm:"column:units_abbreviation"`
	SiteCode     string `gorm:"column:site_code"`
	ValueCount   int64  `gorm:"column:value_count"`
}

type odmSpan struct {
	Start string `gorm:"column:span_start"`
	End   string `gorm:"column:span_end"`
}

const (
	odmSitesQuery = `SELECT sf.SamplingFeatureCode AS code, sf.SamplingFeatureName AS name,
		s.Latitude AS latitude, s.Longitude AS longitude
		FROM Sites s JOIN SamplingFeatures sf ON sf.SamplingFeatureID = s.SamplingFeatureID
		ORDER BY sf.SamplingFeatureCode`

	odmSeriesQuery = `SELECT r.ResultID AS result_id, r.ResultUUID AS result_uuid,
		v.VariableCode AS variable_code, v.VariableNameCV AS variable_name,
		u.UnitsName AS units_name, u.UnitsAbbreviation AS units_abbreviation,
		sf.SamplingFeatureCode AS site_code, r.ValueCount AS value_count
		FROM TimeSeriesResults tsr
		JOIN Results r ON r.ResultID = tsr.ResultID
		JOIN Variables v ON v.VariableID = r.VariableID
		JOIN Units u ON u.UnitsID = r.UnitsID
		JOIN FeatureActions fa ON fa.FeatureActionID = r.FeatureActionID
		JOIN SamplingFeatures sf ON sf.SamplingFeatureID = fa.SamplingFeatureID
		ORDER BY r.ResultID`

	odmSpanQuery = `SELECT COALESCE(MIN(ValueDateTime), '') AS span_start, COALESCE(MAX(ValueDateTime), '') AS span_end
		FROM TimeSeriesResultValues`
)

// extractSQLite reads an ODM2 SQLite file staged to local disk.
func (t *timeSeriesObject) extractSQLite(ctx context.Context) (map[string]any, error) {
	st, err := t.env.stager.Stage(ctx, t.env.store, map[string]string{t.FilePath(): "series.sqlite"})
	if err != nil {
		return nil, err
	}
	defer st.Close()

	db, err := gorm.Open(sqlite.Open(st.Path("series.sqlite")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	defer sqlDB.Close()
	db = db.WithContext(ctx)

	var sites []odmSite
	if err := db.Raw(odmSitesQuery).Scan(&sites).Error; err != nil {
		return nil, fmt.Errorf("failed to read ODM2 sites: %w", err)
	}
	var series []odmSeries
	if err := db.Raw(odmSeriesQuery).Scan(&series).Error; err != nil {
		return nil, fmt.Errorf("failed to read ODM2 series: %w", err)
	}
	var values odmSpan
	if err := db.Raw(odmSpanQuery).Scan(&values).Error; err != nil {
		return nil, fmt.Errorf("failed to read ODM2 values: %w", err)
	}

	var box extent
	siteList := make([]map[string]any, 0, len(sites))
	for _, s := range sites {
		entry := map[string]any{"code": s.Code, "name": s.Name}
		if s.Latitude != nil && s.Longitude != nil {
			entry["latitude"] = *s.Latitude
			entry["longitude"] = *s.Longitude
			box.add(*s.Longitude, *s.Latitude)
		}
		siteList = append(siteList, entry)
	}

	results := make([]map[string]any, 0, len(series))
	for _, s := range series {
		results = append(results, map[string]any{
			"seriesId":     s.ResultUUID,
			"variableCode": s.VariableCode,
			"variableName": s.VariableName,
			"unit":         s.UnitsName,
			"unitAbbrev":   s.UnitsAbbrev,
			"siteCode":     s.SiteCode,
			"valueCount":   s.ValueCount,
		})
	}

	out := map[string]any{
		"timeSeriesResults": results,
		"sites":             siteList,
	}
	if !box.empty() {
		out["spatialCoverage"] = box.coverage()
	}
	var span period
	for _, v := range []string{values.Start, values.End} {
		if ts, ok := parseTime(strings.TrimSpace(v)); ok {
			span.add(ts)
		}
	}
	if !span.empty() {
		out["temporalCoverage"] = span.coverage()
	}
	return out, nil
}
