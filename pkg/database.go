package decoder

import (
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	sqlx "github.com/jmoiron/sqlx" //make alias name the package to sqlx
)

// ChannelSetting overrides the polarity and amplitude cut of a channel for a
// range of runs.
type ChannelSetting struct {
	Channel  int     `db:"Channel"`
	Polarity int     `db:"Polarity"`
	AmpCut   float32 `db:"AmpCut"`
}

type ChannelMappingEntry struct {
	Channel  int `db:"Channel"`
	SensorID int `db:"SensorID"`
	StripID  int `db:"StripID"`
	ColumnID int `db:"ColumnID"`
}

func ConnectToDatabase(user string, pass string, host string, dbname string) (*sqlx.DB, error) {
	port := "3306"
	dbURI := fmt.Sprintf("%s:%s@(%s:%s)/%s?parseTime=true", user, pass, host, port, dbname)
	db, err := sqlx.Connect("mysql", dbURI)
	return db, err
}

// LoadDatabase applies the run's channel settings and sensor mapping on top
// of the analysis configuration. Rows for channels outside the run are ignored.
func LoadDatabase(dbConn *sqlx.DB, config *Configuration) error {
	settings, err := getChannelSettingsFromDB(dbConn, config.RunNumber, config.Verbosity)
	if err != nil {
		errMessage := fmt.Errorf("error getting channel settings from database: %w", err)
		logger.Error(errMessage.Error())
		return errMessage
	}
	mapping, err := getChannelMappingFromDB(dbConn, config.RunNumber, config.Verbosity)
	if err != nil {
		errMessage := fmt.Errorf("error getting channel mapping from database: %w", err)
		logger.Error(errMessage.Error())
		return errMessage
	}

	analysis := &config.Analysis
	for _, s := range settings {
		if s.Channel < 0 || s.Channel >= config.NChannels {
			logger.Warn(fmt.Sprintf("ChannelSettings row for unknown channel %d ignored", s.Channel), "database")
			continue
		}
		analysis.SignalPolarity[s.Channel] = s.Polarity
		analysis.CutAmpMax[s.Channel] = s.AmpCut
	}
	for _, m := range mapping {
		if m.Channel < 0 || m.Channel >= config.NChannels {
			logger.Warn(fmt.Sprintf("ChannelMapping row for unknown channel %d ignored", m.Channel), "database")
			continue
		}
		analysis.SensorMapping.SensorIDs[m.Channel] = m.SensorID
		analysis.SensorMapping.StripIDs[m.Channel] = m.StripID
		analysis.SensorMapping.ColumnIDs[m.Channel] = m.ColumnID
	}
	// Polarity values from the table go through the same checks as the file
	return analysis.Normalize(config.NChannels)
}

func getChannelSettingsFromDB(db *sqlx.DB, runNumber int, verbosity int) ([]ChannelSetting, error) {
	query := "SELECT Channel, Polarity, AmpCut FROM ChannelSettings WHERE MinRun <= %d and MaxRun >= %d ORDER BY Channel"
	query = fmt.Sprintf(query, runNumber, runNumber)

	if verbosity > 0 {
		logger.Info("Channel settings read from DB", "database")
	}
	if verbosity > 2 {
		logger.Info(fmt.Sprintf("Query: %s", query), "database")
	}
	rows, err := db.Queryx(query)
	if err != nil {
		return nil, fmt.Errorf("error querying database: %w", err)
	}
	defer rows.Close()

	settings := make([]ChannelSetting, 0)
	for rows.Next() {
		result := ChannelSetting{}
		if err := rows.StructScan(&result); err != nil {
			return nil, fmt.Errorf("error scanning DB row: %w", err)
		}
		settings = append(settings, result)
	}
	return settings, rows.Err()
}

func getChannelMappingFromDB(db *sqlx.DB, runNumber int, verbosity int) ([]ChannelMappingEntry, error) {
	query := "SELECT Channel, SensorID, StripID, ColumnID FROM ChannelMapping WHERE MinRun <= %d and MaxRun >= %d ORDER BY Channel"
	query = fmt.Sprintf(query, runNumber, runNumber)

	if verbosity > 0 {
		logger.Info("Channel mapping read from DB", "database")
	}
	if verbosity > 2 {
		logger.Info(fmt.Sprintf("Query: %s", query), "database")
	}
	rows, err := db.Queryx(query)
	if err != nil {
		return nil, fmt.Errorf("error querying database: %w", err)
	}
	defer rows.Close()

	mapping := make([]ChannelMappingEntry, 0)
	for rows.Next() {
		result := ChannelMappingEntry{}
		if err := rows.StructScan(&result); err != nil {
			return nil, fmt.Errorf("error scanning DB row: %w", err)
		}
		mapping = append(mapping, result)
	}
	return mapping, rows.Err()
}
