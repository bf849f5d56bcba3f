package cap

import (
	"encoding/json"
	"os"

	"github.com/rs/zerolog"
)

// dictsFile is the on-disk shape of the event dictionary file.
type dictsFile struct {
	Events map[string]string `json:"EVENTS"`
}

// LoadEventNames reads the event-code dictionary. A missing or corrupt file
// yields an empty mapping, in which case every code renders as
// UnknownEventName; the degradation is logged, never fatal.
func LoadEventNames(path string, logger zerolog.Logger) map[string]string {
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Couldn't load EAS dictionaries")
		return map[string]string{}
	}

	var dicts dictsFile
	if err := json.Unmarshal(raw, &dicts); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Couldn't parse EAS dictionaries")
		return map[string]string{}
	}
	if dicts.Events == nil {
		return map[string]string{}
	}
	return dicts.Events
}
