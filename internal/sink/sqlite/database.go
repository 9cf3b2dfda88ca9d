package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"envoy-logger/internal/errors"
	"envoy-logger/internal/logger"
	"envoy-logger/internal/sample"
	"envoy-logger/internal/sink"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Database stores records in a local SQLite file and integrates power from
// the stored high-rate readings.
type Database struct {
	db        *gorm.DB
	retention time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

type powerSample struct {
	Timestamp       time.Time
	MeasurementType string
	LineIdx         int
	Serial          string
	Power           float64
}

// NewDatabase opens or creates the database at path. Readings older than
// retention are removed whenever a daily summary is written; zero keeps
// everything.
func NewDatabase(path string, retention time.Duration) (*Database, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&Reading{}, &DailySummary{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Database{
		db:        db,
		retention: retention,
		now:       time.Now,
		log:       logger.With("sqlite"),
	}, nil
}

func (d *Database) Name() string {
	return "sqlite"
}

func (d *Database) WriteHighRate(ctx context.Context, records []sink.Record) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]Reading, 0, len(records))
	for _, r := range records {
		g := r.Group()
		rows = append(rows, Reading{
			Timestamp:       r.Time.UTC(),
			Measurement:     r.Measurement,
			Source:          r.Tags[sink.TagSource],
			MeasurementType: string(g.MeasurementType),
			LineIdx:         g.LineIdx,
			Serial:          g.Serial,
			Power:           r.Fields[sink.FieldPower],
			ReactivePower:   r.Fields[sink.FieldReactivePower],
			ApparentPower:   r.Fields[sink.FieldApparentPower],
			Current:         r.Fields[sink.FieldCurrent],
			Voltage:         r.Fields[sink.FieldVoltage],
			PowerFactor:     r.Fields[sink.FieldPowerFactor],
		})
	}

	if err := d.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return errors.Wrap(errors.ErrSinkWrite, err)
	}
	return nil
}

func (d *Database) WriteLowRate(ctx context.Context, records []sink.Record) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]DailySummary, 0, len(records))
	for _, r := range records {
		g := r.Group()
		rows = append(rows, DailySummary{
			Timestamp:       r.Time.UTC(),
			Measurement:     r.Measurement,
			Source:          r.Tags[sink.TagSource],
			MeasurementType: string(g.MeasurementType),
			LineIdx:         g.LineIdx,
			Serial:          g.Serial,
			Energy:          r.Fields[sink.FieldEnergy],
		})
	}

	if err := d.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return errors.Wrap(errors.ErrSinkWrite, err)
	}

	if d.retention > 0 {
		if err := d.CleanOldReadings(d.retention); err != nil {
			d.log.Warn().Err(err).Msg("failed to prune old readings")
		}
	}
	return nil
}

// QueryIntegral integrates the stored power of every series over w.
func (d *Database) QueryIntegral(ctx context.Context, w sink.Window) ([]sink.GroupTotal, error) {
	series, err := d.powerSeries(ctx, w.Start, w.Stop, "")
	if err != nil {
		return nil, errors.Wrap(errors.ErrSinkQuery, err)
	}
	return sink.IntegrateGroups(series, w), nil
}

func (d *Database) powerSeries(ctx context.Context, from, to time.Time, mt sample.MeasurementType) (map[sink.Group][]sink.Point, error) {
	q := d.db.WithContext(ctx).Model(&Reading{}).
		Select("timestamp, measurement_type, line_idx, serial, power").
		Where("timestamp >= ? AND timestamp < ?", from.UTC(), to.UTC())
	if mt != "" {
		q = q.Where("measurement_type = ?", string(mt))
	}

	var samples []powerSample
	if err := q.Find(&samples).Error; err != nil {
		return nil, err
	}

	series := make(map[sink.Group][]sink.Point)
	for _, s := range samples {
		g := sink.Group{
			MeasurementType: sample.MeasurementType(s.MeasurementType),
			LineIdx:         s.LineIdx,
			Serial:          s.Serial,
		}
		series[g] = append(series[g], sink.Point{Time: s.Timestamp, Value: s.Power})
	}
	return series, nil
}

func (d *Database) GetLatestReading() (*Reading, error) {
	var reading Reading
	result := d.db.Order("timestamp desc").First(&reading)
	if result.Error != nil {
		return nil, result.Error
	}
	return &reading, nil
}

func (d *Database) GetReadingsByRange(from, to time.Time) ([]Reading, error) {
	var readings []Reading
	result := d.db.Where("timestamp BETWEEN ? AND ?", from.UTC(), to.UTC()).
		Order("timestamp desc").
		Find(&readings)
	if result.Error != nil {
		return nil, result.Error
	}
	return readings, nil
}

func (d *Database) GetReadingsWithLimit(limit int) ([]Reading, error) {
	var readings []Reading
	result := d.db.Order("timestamp desc").Limit(limit).Find(&readings)
	if result.Error != nil {
		return nil, result.Error
	}
	return readings, nil
}

// GetDailySummaries returns the newest daily summaries first.
func (d *Database) GetDailySummaries(limit int) ([]DailySummary, error) {
	var summaries []DailySummary
	result := d.db.Order("timestamp desc").Limit(limit).Find(&summaries)
	if result.Error != nil {
		return nil, result.Error
	}
	return summaries, nil
}

// GetDailyStats summarizes the readings of the local day containing date.
func (d *Database) GetDailyStats(date time.Time) (*DailyStats, error) {
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	endOfDay := startOfDay.AddDate(0, 0, 1)
	day := sink.Window{Start: startOfDay, Stop: endOfDay}

	var stats DailyStats
	stats.Date = startOfDay

	// peak of the per-sample sum over lines
	peak := func(mt sample.MeasurementType) (float64, error) {
		var watts float64
		err := d.db.Raw(`SELECT COALESCE(MAX(total), 0) FROM (
			SELECT SUM(power) AS total FROM readings
			WHERE deleted_at IS NULL AND measurement_type = ? AND timestamp >= ? AND timestamp < ?
			GROUP BY timestamp)`, string(mt), startOfDay.UTC(), endOfDay.UTC()).
			Scan(&watts).Error
		if err != nil {
			return 0, fmt.Errorf("failed to query %s peak: %w", mt, err)
		}
		return watts, nil
	}
	var err error
	if stats.MaxProduction, err = peak(sample.MeasurementProduction); err != nil {
		return nil, err
	}
	if stats.MaxConsumption, err = peak(sample.MeasurementConsumption); err != nil {
		return nil, err
	}

	energy := func(mt sample.MeasurementType) (float64, error) {
		series, err := d.powerSeries(context.Background(), startOfDay, endOfDay, mt)
		if err != nil {
			return 0, err
		}
		var wh float64
		for _, total := range sink.IntegrateGroups(series, day) {
			wh += total.Wh
		}
		return wh, nil
	}
	if stats.ProducedEnergy, err = energy(sample.MeasurementProduction); err != nil {
		return nil, err
	}
	if stats.ConsumedEnergy, err = energy(sample.MeasurementConsumption); err != nil {
		return nil, err
	}

	if err := d.db.Model(&Reading{}).
		Where("timestamp >= ? AND timestamp < ?", startOfDay.UTC(), endOfDay.UTC()).
		Count(&stats.ReadingsCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count readings: %w", err)
	}

	if err := d.db.Model(&Reading{}).
		Where("measurement_type = ? AND timestamp >= ? AND timestamp < ?", string(sample.MeasurementInverter), startOfDay.UTC(), endOfDay.UTC()).
		Count(&stats.InverterReports).Error; err != nil {
		return nil, fmt.Errorf("failed to count inverter reports: %w", err)
	}

	return &stats, nil
}

func (d *Database) CleanOldReadings(olderThan time.Duration) error {
	cutoff := d.now().Add(-olderThan).UTC()
	return d.db.Unscoped().Where("timestamp < ?", cutoff).Delete(&Reading{}).Error
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
